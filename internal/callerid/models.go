package callerid

import "time"

// Identity is an outbound phone resource with a concurrency cap.
//
// Invariant: 0 <= CurrentCalls; decrements clamp at zero.
// CurrentCalls is incremented by the initiator at dial time and decremented here on release.
type Identity struct {
	ID              string `json:"id" db:"id"`
	PhoneNumber     string `json:"phone_number" db:"phone_number"`
	ProviderPhoneID string `json:"provider_phone_id,omitempty" db:"provider_phone_id"`

	IsActive  bool `json:"is_active" db:"is_active"`
	IsDefault bool `json:"is_default" db:"is_default"`

	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`
	CurrentCalls       int `json:"current_calls" db:"current_calls"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Eligible reports whether the identity may be used for dialing at all.
func (i Identity) Eligible() bool {
	return i.IsActive && i.ProviderPhoneID != ""
}

// HasFreeSlot reports whether an eligible identity is below its cap.
func (i Identity) HasFreeSlot() bool {
	return i.Eligible() && i.CurrentCalls < i.MaxConcurrentCalls
}
