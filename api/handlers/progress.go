package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/internal/state"
)

// ProgressHandler 把管线进度以 SSE 流推送给前端。
type ProgressHandler struct {
	state  *state.Store
	logger *zap.Logger
}

// NewProgressHandler 创建进度处理器
func NewProgressHandler(st *state.Store, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{state: st, logger: logger}
}

// HandleStream 订阅一条管线的进度事件流
// GET /api/sessions/{id}/progress?llm=GPT
//
// 事件序列：当前快照 → 进度快照... → 终态事件。
// completed 终态之后补发一个 done 事件再关闭；error 终态直接关闭。
func (h *ProgressHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, "NO_STREAMING", "streaming unsupported", h.logger)
		return
	}

	scope := state.Scope{
		SessionID: r.PathValue("id"),
		LLM:       strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("llm"))),
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(payload string) {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	// 先订阅再读快照,两者之间不丢事件
	pubsub := h.state.Subscribe(r.Context(), scope)
	defer pubsub.Close()

	if snapshot, err := h.state.Snapshot(r.Context(), scope); err == nil && snapshot.Total > 0 {
		data, _ := json.Marshal(snapshot)
		send(string(data))
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			send(msg.Payload)

			var status state.StatusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &status); err == nil && status.Status != "" {
				switch status.Status {
				case state.StatusCompleted:
					send("done")
					return
				case state.StatusError:
					return
				}
			}
		}
	}
}
