package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/telegate/internal/login"
	"github.com/hitoshi/telegate/internal/model"
)

// AccountManager はインスタンスハンドラーが必要とするログインマネージャのインターフェース。
type AccountManager interface {
	// CreateAccount はアカウントを登録してログインフローを開始する。
	CreateAccount(ctx context.Context, name, webhookURL string) (login.CreateResult, error)
	// Status はアカウントのスナップショットを返す。
	Status(name string) (model.Account, error)
	// List は全アカウントのスナップショットを返す。
	List() []model.Account
	// Disconnect はアカウントを切断してレジストリから外す。
	Disconnect(ctx context.Context, name string) error
}

// InstanceHandler はインスタンス（アカウントセッション）管理のHTTPハンドラー。
type InstanceHandler struct {
	accounts AccountManager
}

// NewInstanceHandler はInstanceHandlerを生成する。
func NewInstanceHandler(accounts AccountManager) *InstanceHandler {
	return &InstanceHandler{accounts: accounts}
}

// createInstanceRequest はインスタンス作成リクエストのボディ。
type createInstanceRequest struct {
	Nome    string `json:"Nome"`
	Webhook string `json:"Webhook"`
}

// instanceResponse は操作結果のレスポンス。
type instanceResponse struct {
	Status   bool   `json:"status"`
	Nome     string `json:"nome,omitempty"`
	Mensagem string `json:"mensagem"`
}

// statusResponse はインスタンス状態のレスポンス。
type statusResponse struct {
	Nome          string     `json:"nome"`
	Conectado     bool       `json:"conectado"`
	Webhook       string     `json:"webhook"`
	Estado        string     `json:"estado"`
	CriadoEm      time.Time  `json:"criadoEm"`
	AutenticadoEm *time.Time `json:"autenticadoEm,omitempty"`
}

// listResponse はインスタンス一覧のレスポンス。
type listResponse struct {
	Total      int              `json:"total"`
	Instancias []statusResponse `json:"instancias"`
}

// CreateInstance はインスタンスを作成する。QRコードはWebhookで非同期に通知される。
// POST /nova-instancia
func (h *InstanceHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	result, err := h.accounts.CreateAccount(r.Context(), req.Nome, req.Webhook)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.AlreadyExists {
		writeJSON(w, http.StatusOK, instanceResponse{
			Status:   true,
			Nome:     result.Account.Name,
			Mensagem: "Sessão já existente",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, instanceResponse{
		Status:   true,
		Nome:     result.Account.Name,
		Mensagem: "Instância criada. Aguarde o QR code no webhook.",
	})
}

// GetStatus はインスタンスの状態を返す。
// GET /status/{nome}
func (h *InstanceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Status(chi.URLParam(r, "nome"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(account))
}

// ListInstances は登録済みインスタンスの一覧を返す。
// GET /instancias
func (h *InstanceHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	accounts := h.accounts.List()
	resp := listResponse{
		Total:      len(accounts),
		Instancias: make([]statusResponse, 0, len(accounts)),
	}
	for _, a := range accounts {
		resp.Instancias = append(resp.Instancias, toStatusResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteInstance はインスタンスを切断する。保存済みの認証情報は残る。
// DELETE /instancia/{nome}
func (h *InstanceHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "nome")
	if err := h.accounts.Disconnect(r.Context(), name); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse{
		Status:   true,
		Mensagem: fmt.Sprintf("Instância %s desconectada.", name),
	})
}

func toStatusResponse(a model.Account) statusResponse {
	resp := statusResponse{
		Nome:      a.Name,
		Conectado: a.Connected,
		Webhook:   a.WebhookURL,
		Estado:    string(a.State),
		CriadoEm:  a.CreatedAt,
	}
	if !a.AuthenticatedAt.IsZero() {
		at := a.AuthenticatedAt
		resp.AutenticadoEm = &at
	}
	return resp
}
