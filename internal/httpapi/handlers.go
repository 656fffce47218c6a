package httpapi

import (
	"errors"
	"net/http"
	"time"

	"prank-platform/internal/audit"
	"prank-platform/internal/auth"
	"prank-platform/internal/callerid"
	"prank-platform/internal/calls"
	"prank-platform/internal/queue"
	"prank-platform/internal/rbac"
	"prank-platform/internal/reporting"
	"prank-platform/internal/wallet"
	"prank-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups the ops API handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls    calls.Repository
	Audit    *audit.Service
	Pool     *callerid.Pool
	Promoter *queue.Promoter
	Wallet   *wallet.Service
	Reports  *reporting.Service

	Now func() time.Time
}

const callEventsLimit = 200

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

type identity struct {
	userID  string
	ownerID string
	role    string
}

func currentIdentity(c *gin.Context) (identity, bool) {
	ctx := c.Request.Context()
	uid, err := auth.UserID(ctx)
	if err != nil {
		return identity{}, false
	}
	oid, err := auth.OwnerID(ctx)
	if err != nil {
		return identity{}, false
	}
	role, err := auth.Role(ctx)
	if err != nil {
		return identity{}, false
	}
	return identity{userID: uid, ownerID: oid, role: role}, true
}

// --- Calls ---

// GetCall returns a call job with its lifecycle events. Owners only see their own jobs.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	id, ok := currentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	job, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "call_job_id", c.Param("id"), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	// Foreign jobs are reported as missing so ids cannot be enumerated.
	if job.OwnerID != id.ownerID && !rbac.IsStaff(id.role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}

	events := []audit.Event{}
	if h.Audit != nil {
		events, err = h.Audit.ListByCallJob(c.Request.Context(), job.ID, callEventsLimit)
		if err != nil {
			logger.FromGin(c).Error("call events lookup failed", "call_job_id", job.ID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call events lookup failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"call": job, "events": events})
}

// --- Caller identities ---

func (h Handlers) ListCallerIdentities(c *gin.Context) {
	if h.Pool == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "caller pool not configured"})
		return
	}
	ids, err := h.Pool.List(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("caller identity list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "caller identity list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"caller_identities": ids})
}

// --- Queue ---

// PromoteQueue runs one promotion pass on demand, e.g. after capacity was
// restored by hand. RBAC: operator.
func (h Handlers) PromoteQueue(c *gin.Context) {
	if h.Promoter == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	id, ok := currentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	log := logger.FromGin(c)
	results, err := h.Promoter.Promote(c.Request.Context())
	if h.Audit != nil {
		for _, r := range results {
			if r.Entry.ID == "" {
				continue
			}
			outcome := "promoted"
			if !r.Promoted {
				outcome = r.Reason
			}
			if aerr := h.Audit.LogManualPromotion(c.Request.Context(), id.userID, r.Entry.ID, r.Entry.CallJobID, outcome); aerr != nil {
				log.Warn("manual promotion audit failed", "queue_entry_id", r.Entry.ID, "err", aerr)
			}
		}
	}
	if err != nil {
		log.Error("manual promotion failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "promotion failed", "results": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// --- Credits ---

func (h Handlers) GetBalance(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	id, ok := currentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), id.ownerID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

type adminCreditRequest struct {
	OwnerID        string `json:"owner_id" binding:"required"`
	Credits        int64  `json:"credits" binding:"required,gt=0"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,max=200"`
}

// AdminCredit records purchased credits for an owner. RBAC: operator.
func (h Handlers) AdminCredit(c *gin.Context) {
	if h.Wallet == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "wallet not configured"})
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id, credits > 0 and idempotency_key required"})
		return
	}
	entry, bal, err := h.Wallet.Credit(c.Request.Context(), req.OwnerID, wallet.CreditRequest{
		Credits:        req.Credits,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "owner_id, credits > 0 and idempotency_key required"})
			return
		}
		logger.FromGin(c).Error("credit failed", "owner_id", req.OwnerID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry, "balance": bal})
}

// --- Reports ---

// CallsReport summarizes the caller's own calls. Range defaults to the last 30 days;
// from/to are RFC3339.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	id, ok := currentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	to := h.now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OwnerID: id.ownerID,
		Range:   reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
