package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"paywall_gateway/internal/paywall"
	"paywall_gateway/internal/tokens"
)

// maxBodyBytes bounds a paywall request body.
const maxBodyBytes = 4 << 20

// streamChunkRunes is the size of one SSE content chunk.
const streamChunkRunes = 64

type paywallRequest struct {
	UserID   string `json:"user_id"`
	Prompt   string `json:"prompt"`
	Content  string `json:"content"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	Stream   bool   `json:"stream"`
	// EstimatedTokens is derived from the prompt when absent.
	EstimatedTokens *int `json:"estimated_tokens,omitempty"`
}

type paywallResponse struct {
	RequestID          string `json:"request_id"`
	Content            string `json:"content"`
	IsPreview          bool   `json:"is_preview"`
	PreviewPercent     int    `json:"preview_percent"`
	AccessLevel        string `json:"access_level"`
	LockReason         string `json:"lock_reason,omitempty"`
	DisplayCostCredits int64  `json:"display_cost_credits"`
}

type streamChunk struct {
	Content string `json:"content"`
}

// ApplyHeaders copies a decision's metadata onto the response headers.
// X-Lock-Reason is only present on previews.
func ApplyHeaders(w http.ResponseWriter, d *paywall.Decision) {
	h := w.Header()
	for k, v := range d.Metadata {
		h.Set(k, v)
	}
	if !d.IsPreview {
		h.Del(paywall.HeaderLockReason)
	}
}

// handlePaywall runs generated content through the paywall.
//
// Flow:
//  1. Validate method and decode JSON body; empty content is still decided
//  2. Estimate tokens from the prompt when the caller gave none
//  3. Gate: resolve user, decide, persist, queue the charge
//  4. Write metadata headers and the delivered content (JSON or SSE)
func (d *Dependencies) handlePaywall(w http.ResponseWriter, r *http.Request) {
	reqID := newRequestID()

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req paywallRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if d.Gate == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "paywall not configured")
		return
	}

	estimated := tokens.CountTokens(req.Prompt) + tokens.EstimateOutputTokens(req.Prompt)
	if req.EstimatedTokens != nil {
		estimated = *req.EstimatedTokens
	}

	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = d.DefaultEndpoint
	}
	provider := req.Provider
	if provider == "" {
		provider = d.DefaultProvider
	}

	meta := map[string]string{"request_id": reqID}
	if provider != "" {
		meta["provider"] = provider
	}
	if req.Model != "" {
		meta["model"] = req.Model
	}

	decision, err := d.Gate.Process(r.Context(), paywall.ProcessInput{
		UserID:          req.UserID,
		Prompt:          req.Prompt,
		FullContent:     req.Content,
		EstimatedTokens: estimated,
		Endpoint:        endpoint,
		Metadata:        meta,
	})
	if err != nil {
		// The decision stands; side effects are retried or dead-lettered
		// further down.
		d.Logger.Warn("Paywall side effects failed", "requestId", reqID, "error", err)
	}

	ApplyHeaders(w, decision)
	w.Header().Set("X-Request-ID", reqID)

	if req.Stream {
		d.streamContent(w, reqID, paywall.UserContent(decision))
		return
	}

	resp := paywallResponse{
		RequestID:      reqID,
		Content:        paywall.UserContent(decision),
		IsPreview:      decision.IsPreview,
		PreviewPercent: decision.PreviewPercent,
		AccessLevel:    string(decision.AccessLevel()),
		LockReason:     decision.DenialReason,
	}
	if d.Pricing != nil {
		resp.DisplayCostCredits = d.Pricing.CalculateCreditCost(provider, len(strings.Fields(req.Content)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// streamContent writes content as Server-Sent Events followed by [DONE].
func (d *Dependencies) streamContent(w http.ResponseWriter, reqID, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, chunk := range chunkRunes(content, streamChunkRunes) {
		data, err := json.Marshal(streamChunk{Content: chunk})
		if err != nil {
			break
		}
		if err := writeEvent(w, data); err != nil {
			d.Logger.Debug("Client went away during stream", "requestId", reqID, "error", err)
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func writeEvent(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

// chunkRunes splits s into pieces of at most size runes without breaking
// a multi-byte character.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		return []string{s}
	}

	var chunks []string
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < size {
			_, n := utf8.DecodeRuneInString(s[end:])
			end += n
			count++
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}

// newRequestID returns a UUID request ID for tracing
func newRequestID() string {
	return uuid.New().String()
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(statusCode),
			"code":    statusCode,
		},
	}

	_ = json.NewEncoder(w).Encode(errorResp)
}

func errorType(statusCode int) string {
	if statusCode >= http.StatusInternalServerError {
		return "server_error"
	}
	return "invalid_request_error"
}
