package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/config"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services/mailer"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/testutil"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/utils"
)

const testSecret = "handler-test-secret"

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.InvitationEmail
	err  error
}

func (s *fakeSender) SendInvitation(_ context.Context, m mailer.InvitationEmail) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, m)
	return "msg-" + m.ClientEmail, nil
}

type harness struct {
	t          *testing.T
	db         *gorm.DB
	app        *fiber.App
	sender     *fakeSender
	freelancer *models.User
	client     *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := testutil.OpenDB(t)
	sender := &fakeSender{}
	d := Deps{
		Config: config.Config{
			JWTSecret:       testSecret,
			JWTExpiresMin:   60,
			FrontendBaseURL: "https://app.example.com",
			CORSOrigins:     []string{"https://app.example.com"},
			InvitationTTL:   7 * 24 * time.Hour,
		},
		DB:     gdb,
		Log:    zap.NewNop(),
		Sender: sender,
	}
	return &harness{
		t:          t,
		db:         gdb,
		app:        NewApp(d, NewServices(d)),
		sender:     sender,
		freelancer: testutil.CreateUser(t, gdb, models.RoleFreelancer, "Fran Lancer", "fran@example.com"),
		client:     testutil.CreateUser(t, gdb, models.RoleClient, "Cli Ent", "client@example.com"),
	}
}

func (h *harness) do(method, path string, body any, as *models.User) (int, map[string]any) {
	h.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		tok, err := utils.SignJWT(testSecret, as.ID.String(), string(as.Role), 60)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	if len(raw) > 0 {
		require.NoError(h.t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

// invite issues an invitation for a fresh project and returns its token.
func (h *harness) invite() (string, *models.Project) {
	h.t.Helper()
	p := testutil.CreateProject(h.t, h.db, h.freelancer.ID, "Marketing site")
	status, body := h.do(http.MethodPost, "/api/invitations/create", fiber.Map{
		"projectId":   p.ID,
		"clientEmail": h.client.Email,
	}, h.freelancer)
	require.Equal(h.t, http.StatusCreated, status, body)
	return body["token"].(string), p
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	status, body := h.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodPost, "/api/auth/register", fiber.Map{
		"name":     "New Person",
		"email":    "New@Example.com",
		"password": "secret123",
		"role":     "freelancer",
	}, nil)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = h.do(http.MethodPost, "/api/auth/register", fiber.Map{
		"name":     "Dup",
		"email":    "new@example.com",
		"password": "secret123",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, _ = h.do(http.MethodPost, "/api/auth/login", fiber.Map{
		"email": "new@example.com", "password": "wrong-one",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = h.do(http.MethodPost, "/api/auth/login", fiber.Map{
		"email": "NEW@example.com", "password": "secret123",
	}, nil)
	require.Equal(t, http.StatusOK, status, body)
	user := body["data"].(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "freelancer", user["role"])
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodGet, "/api/projects", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, false, body["success"])

	status, _ = h.do(http.MethodPost, "/api/invitations/create", fiber.Map{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// public token routes stay reachable
	status, body = h.do(http.MethodGet, "/api/invitations/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["code"])
}

func TestCreateAndListProjects(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodPost, "/api/projects", fiber.Map{
		"title":       "Landing page",
		"description": "One page",
		"hourlyRate":  5000,
		"startDate":   "2026-05-01",
		"endDate":     "2026-06-01",
		"milestones": []fiber.Map{
			{"title": "Design", "percentage": 50, "amount": 10000},
			{"title": "Build", "percentage": 50, "amount": 10000},
		},
		"clientEmail": h.client.Email,
	}, h.freelancer)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, true, body["emailSent"])
	assert.NotEmpty(t, body["invitationId"])
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, h.client.Email, h.sender.sent[0].ClientEmail)
	assert.Contains(t, h.sender.sent[0].InvitationLink, "https://app.example.com/invite/")

	status, body = h.do(http.MethodPost, "/api/projects", fiber.Map{
		"title": "Bad plan",
		"milestones": []fiber.Map{
			{"title": "Only", "percentage": 60, "amount": 100},
		},
	}, h.freelancer)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])

	status, _ = h.do(http.MethodPost, "/api/projects", fiber.Map{"title": "x"}, h.client)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = h.do(http.MethodGet, "/api/projects", nil, h.freelancer)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestInvitationFlow(t *testing.T) {
	h := newHarness(t)
	token, p := h.invite()
	require.Len(t, h.sender.sent, 1)

	status, body := h.do(http.MethodGet, "/api/invitations/"+token, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", body["invitation"].(map[string]any)["status"])

	status, body = h.do(http.MethodGet, "/api/invitations/"+token+"/project", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, p.Title, body["project"].(map[string]any)["title"])
	assert.Equal(t, h.freelancer.Name, body["freelancer"].(map[string]any)["name"])

	status, body = h.do(http.MethodPost, "/api/invitations/check-client", fiber.Map{"email": "CLIENT@example.com"}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["exists"])

	status, body = h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{"token": token}, h.client)
	require.Equal(t, http.StatusOK, status, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "accepted", data["invitation"].(map[string]any)["status"])
	assert.Equal(t, "pending_approval", data["project"].(map[string]any)["status"])

	status, body = h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{"token": token}, h.client)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_accepted", body["reason"])

	status, body = h.do(http.MethodPost, "/api/invitations/reject", fiber.Map{"token": token}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_accepted", body["reason"])
}

func TestAcceptRejectsMismatchedClientID(t *testing.T) {
	h := newHarness(t)
	token, _ := h.invite()
	other := testutil.CreateUser(t, h.db, models.RoleClient, "Other", "other@example.com")

	status, body := h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{
		"token":    token,
		"clientId": other.ID,
	}, h.client)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", body["code"])

	status, _ = h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{"token": token}, h.freelancer)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{}, h.client)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])
}

func TestCreateInvitationEmailFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.sender.err = errors.New("provider down")
	p := testutil.CreateProject(t, h.db, h.freelancer.ID, "Marketing site")

	status, body := h.do(http.MethodPost, "/api/invitations/create", fiber.Map{
		"projectId":   p.ID,
		"clientEmail": h.client.Email,
	}, h.freelancer)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, false, body["emailSent"])
	assert.NotEmpty(t, body["token"])

	status, body = h.do(http.MethodPost, "/api/invitations/create", fiber.Map{
		"projectId":   p.ID,
		"clientEmail": h.client.Email,
	}, h.freelancer)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["code"])
}

func TestContractSignOnce(t *testing.T) {
	h := newHarness(t)
	token, p := h.invite()

	status, body := h.do(http.MethodPost, "/api/invitations/accept", fiber.Map{"token": token}, h.client)
	require.Equal(t, http.StatusOK, status, body)
	contractID := body["data"].(map[string]any)["contract"].(map[string]any)["id"].(string)

	status, body = h.do(http.MethodGet, "/api/projects/"+p.ID.String()+"/contract", nil, h.freelancer)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, contractID, body["data"].(map[string]any)["id"])

	status, body = h.do(http.MethodPost, "/api/contracts/"+contractID+"/sign", fiber.Map{"signature": "C. Ent"}, h.client)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "C. Ent", body["data"].(map[string]any)["clientSignature"])

	status, body = h.do(http.MethodPost, "/api/contracts/"+contractID+"/sign", fiber.Map{"signature": "Again"}, h.client)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_signed", body["code"])

	var stored models.Project
	require.NoError(t, h.db.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, models.ProjectActive, stored.Status)
}

func TestOnlyClientPaysInvoice(t *testing.T) {
	h := newHarness(t)
	p := testutil.CreateProject(t, h.db, h.freelancer.ID, "Marketing site")
	require.NoError(t, h.db.Model(p).Updates(map[string]any{
		"client_id":      h.client.ID,
		"client_visible": true,
	}).Error)

	status, body := h.do(http.MethodPost, "/api/projects/"+p.ID.String()+"/invoices", fiber.Map{"milestoneIndex": 0}, h.freelancer)
	require.Equal(t, http.StatusCreated, status, body)
	invoiceID := body["data"].(map[string]any)["id"].(string)

	status, _ = h.do(http.MethodPost, "/api/invoices/"+invoiceID+"/pay", nil, h.freelancer)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = h.do(http.MethodPost, "/api/invoices/"+invoiceID+"/pay", nil, h.client)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "paid", body["data"].(map[string]any)["status"])
}

func TestSendInvitationEmail(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(http.MethodPost, "/api/email/send-invitation", fiber.Map{
		"clientEmail":     "someone@example.com",
		"invitationLink":  "https://app.example.com/invite/abc",
		"projectTitle":    "Site",
		"freelancerName":  "Fran Lancer",
		"freelancerEmail": "fran@example.com",
		"expiresAt":       "1 Mar 2026",
	}, h.freelancer)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "msg-someone@example.com", body["messageId"])

	status, body = h.do(http.MethodPost, "/api/email/send-invitation", fiber.Map{
		"clientEmail": "not-an-email",
	}, h.freelancer)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["code"])
}

func TestDashboard(t *testing.T) {
	h := newHarness(t)
	h.invite()

	status, body := h.do(http.MethodGet, "/api/dashboard/stats", nil, h.freelancer)
	require.Equal(t, http.StatusOK, status, body)
	stats := body["data"].(map[string]any)
	assert.EqualValues(t, 1, stats["totalProjects"])
	assert.EqualValues(t, 1, stats["pendingInvitations"])
	assert.EqualValues(t, 0, stats["totalEarnings"])

	status, body = h.do(http.MethodGet, "/api/dashboard/stats", nil, h.client)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["pendingInvitations"])
	assert.EqualValues(t, 0, body["data"].(map[string]any)["totalProjects"])

	status, body = h.do(http.MethodGet, "/api/dashboard/projects?limit=5", nil, h.freelancer)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["data"], 1)
	meta := body["meta"].(map[string]any)
	assert.EqualValues(t, 1, meta["totalItems"])
	assert.EqualValues(t, 5, meta["limit"])
}
