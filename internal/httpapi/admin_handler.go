package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/utils"
)

// defaultDeadLetterLimit caps the dead letters listed per queue.
const defaultDeadLetterLimit = 50

// queueInspector is implemented by the audit and charge workers.
type queueInspector interface {
	GetQueueLength(ctx context.Context) (int, error)
	GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error)
	RetryDeadLetterItem(ctx context.Context, id string) error
}

type queueStatus struct {
	Length      int                    `json:"length"`
	DeadLetters []queue.DeadLetterItem `json:"dead_letters"`
	Error       string                 `json:"error,omitempty"`
}

type retryRequest struct {
	Queue string `json:"queue"`
	ID    string `json:"id"`
}

func (d *Dependencies) inspectors() map[string]queueInspector {
	m := make(map[string]queueInspector, 2)
	if d.AuditWorker != nil {
		m["audit"] = d.AuditWorker
	}
	if d.ChargeWorker != nil {
		m["charges"] = d.ChargeWorker
	}
	return m
}

// handleAdminQueues reports queue lengths and dead-lettered items.
func (d *Dependencies) handleAdminQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultDeadLetterLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	ctx := r.Context()
	out := make(map[string]queueStatus)
	for name, insp := range d.inspectors() {
		var st queueStatus
		length, err := insp.GetQueueLength(ctx)
		if err != nil {
			st.Error = err.Error()
		}
		st.Length = length

		items, err := insp.GetDeadLetterItems(ctx, limit)
		if err != nil && st.Error == "" {
			st.Error = err.Error()
		}
		st.DeadLetters = items
		if st.DeadLetters == nil {
			st.DeadLetters = []queue.DeadLetterItem{}
		}
		out[name] = st
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, out)
}

// handleAdminRetry moves one dead-lettered item back onto its queue.
func (d *Dependencies) handleAdminRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'id' field")
		return
	}

	insp, ok := d.inspectors()[req.Queue]
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown queue: "+req.Queue)
		return
	}

	if err := insp.RetryDeadLetterItem(r.Context(), req.ID); err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			writeJSONError(w, http.StatusNotFound, "dead letter item not found")
			return
		}
		d.Logger.Error("Failed to retry dead letter item", "queue", req.Queue, "id", req.ID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to retry item")
		return
	}

	d.Logger.Info("Dead letter item re-queued", "queue", req.Queue, "id", req.ID)
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "requeued", "id": req.ID})
}
