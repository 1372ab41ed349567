package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/patentflow/classify"
	"github.com/BaSui01/patentflow/taxonomy"
)

// 上传文件大小上限 32 MB
const maxUploadBytes = 32 << 20

// SessionHandler 处理会话生命周期：创建、分类体系保存、特허 업로드。
type SessionHandler struct {
	rows       *classify.RowStore
	taxonomies *taxonomy.Adapter
	logger     *zap.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(rows *classify.RowStore, taxonomies *taxonomy.Adapter, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{rows: rows, taxonomies: taxonomies, logger: logger}
}

// HandleCreate 创建新会话
// POST /api/sessions
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	h.logger.Info("session created", zap.String("session", sessionID))
	WriteSuccess(w, map[string]string{"sessionId": sessionID})
}

// HandleSaveTaxonomy 保存会话的分类体系并构建向量索引
// POST /api/sessions/{id}/taxonomy
func (h *SessionHandler) HandleSaveTaxonomy(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var items []taxonomy.Item
	if err := DecodeJSONBody(w, r, &items, h.logger); err != nil {
		return
	}
	if len(items) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, "EMPTY_TAXONOMY", "분류 체계가 비어 있습니다.", h.logger)
		return
	}

	idx, err := h.taxonomies.SaveForSession(r.Context(), sessionID, items)
	if err != nil {
		WriteLLMError(w, err, h.logger)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"sessionId": sessionID,
		"documents": idx.Len(),
	})
}

// HandleUpload 上传特허 xlsx 并暂存解析行
// POST /api/sessions/{id}/patents
func (h *SessionHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_UPLOAD", "업로드 형식이 올바르지 않습니다.", h.logger)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FILE", "file 필드가 필요합니다.", h.logger)
		return
	}
	defer file.Close()

	rows, err := classify.ParseRows(file)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_WORKBOOK", err.Error(), h.logger)
		return
	}
	if err := h.rows.Save(sessionID, rows); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, "STORE_FAILED", err.Error(), h.logger)
		return
	}

	h.logger.Info("patents uploaded",
		zap.String("session", sessionID),
		zap.Int("rows", len(rows)),
	)
	WriteSuccess(w, map[string]interface{}{
		"sessionId": sessionID,
		"rows":      len(rows),
	})
}
