package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the ops API.
// OwnerID is the account whose calls and credits the caller may read; operators
// carry their own account id and are authorized by role.
type Claims struct {
	jwt.RegisteredClaims

	UserID  string `json:"user_id"`
	OwnerID string `json:"owner_id"`
	Role    string `json:"role"`
}
