package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	app "github.com/civicworks/grantflow/internal/app"
	"github.com/civicworks/grantflow/internal/app/core/service"
	"github.com/civicworks/grantflow/internal/app/domain/application"
	"github.com/civicworks/grantflow/internal/app/domain/project"
	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/internal/app/metrics"
	applicationsvc "github.com/civicworks/grantflow/internal/app/services/applications"
	fundsvc "github.com/civicworks/grantflow/internal/app/services/funds"
	projectsvc "github.com/civicworks/grantflow/internal/app/services/projects"
	"github.com/civicworks/grantflow/pkg/logger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app        *app.Application
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewHandler returns a mux exposing the REST API, instrumented with the
// request metrics.
func NewHandler(application *app.Application, jwtSecret []byte, log *logger.Logger) http.Handler {
	h := &handler{app: application, jwtSecret: jwtSecret, sessionTTL: DefaultSessionTTL}
	auth := newAuthMiddleware(jwtSecret, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/register", h.register)
	mux.HandleFunc("/login", h.login)
	mux.HandleFunc("/password-reset", h.passwordReset)
	mux.HandleFunc("/email-change", auth.require(h.emailChange))
	mux.HandleFunc("/validations/", auth.optional(h.validations))

	mux.HandleFunc("/users", auth.require(h.users))
	mux.HandleFunc("/users/", auth.require(h.userResources))

	mux.HandleFunc("/projects", auth.require(h.projects))
	mux.HandleFunc("/projects/", auth.require(h.projectResources))

	mux.HandleFunc("/funds", auth.require(h.funds))
	mux.HandleFunc("/funds/", auth.require(h.fundResources))

	mux.HandleFunc("/applications", auth.require(h.applications))
	mux.HandleFunc("/applications/", auth.require(h.applicationResources))

	return metrics.InstrumentHandler(mux)
}

// --- account endpoints ------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Username      string `json:"username"`
		Email         string `json:"email"`
		Password      string `json:"password"`
		ValidationURL string `json:"validationUrl"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Accounts.Register(r.Context(), payload.Username, payload.Email, payload.Password, payload.ValidationURL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, publicUser(u))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Accounts.VerifyPassword(r.Context(), payload.Identifier, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
		return
	}
	token, err := IssueToken(h.jwtSecret, u, h.sessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": publicUser(u)})
}

func (h *handler) passwordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email         string `json:"email"`
		ValidationURL string `json:"validationUrl"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Accounts.RequestPasswordReset(r.Context(), payload.Email, payload.ValidationURL); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) emailChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email         string `json:"email"`
		ValidationURL string `json:"validationUrl"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Accounts.RequestEmailChange(r.Context(), userIDFrom(r.Context()), payload.Email, payload.ValidationURL); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// validations handles POST /validations/{id}/confirm.
func (h *handler) validations(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/validations"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[1] != "confirm" || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Token  string            `json:"token"`
		Params map[string]string `json:"params"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var authenticated *string
	if id := userIDFrom(r.Context()); id != "" {
		authenticated = &id
	}

	record, _, err := h.app.Validation.Confirm(r.Context(), authenticated, parts[0], payload.Token, payload.Params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   record.ID,
		"type": record.Type,
	})
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !hasRole(claimsFrom(r.Context()), user.RoleAdmin) {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin required"))
		return
	}
	list, err := h.app.Accounts.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, u := range list {
		out = append(out, publicUser(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]
	claims := claimsFrom(r.Context())
	isSelf := claims != nil && claims.UserID == userID
	isAdmin := hasRole(claims, user.RoleAdmin)

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if !isSelf && !isAdmin {
				writeError(w, http.StatusForbidden, fmt.Errorf("access denied"))
				return
			}
			u, err := h.app.Accounts.Get(r.Context(), userID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, publicUser(u))
		case http.MethodDelete:
			if !isSelf && !isAdmin {
				writeError(w, http.StatusForbidden, fmt.Errorf("access denied"))
				return
			}
			if err := h.app.Accounts.Delete(r.Context(), userID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "roles" {
		if !isAdmin {
			writeError(w, http.StatusForbidden, fmt.Errorf("admin required"))
			return
		}
		var payload struct {
			Role string `json:"role"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var (
			u   user.User
			err error
		)
		switch r.Method {
		case http.MethodPost:
			u, err = h.app.Accounts.GrantRole(r.Context(), userID, payload.Role)
		case http.MethodDelete:
			u, err = h.app.Accounts.RevokeRole(r.Context(), userID, payload.Role)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, publicUser(u))
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// --- project endpoints ------------------------------------------------------

func (h *handler) projects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Idea             bool   `json:"idea"`
			InspirationID    string `json:"inspirationId"`
			Name             string `json:"name"`
			ShortDescription string `json:"shortDescription"`
			Description      string `json:"description"`
			Goal             string `json:"goal"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		in := projectsvc.IdeaInput{
			Name:             payload.Name,
			ShortDescription: payload.ShortDescription,
			Description:      payload.Description,
			Goal:             payload.Goal,
		}
		var (
			p   project.Project
			err error
		)
		if payload.Idea {
			p, err = h.app.Projects.CreateIdea(r.Context(), userIDFrom(r.Context()), in)
		} else {
			p, err = h.app.Projects.Create(r.Context(), userIDFrom(r.Context()), payload.InspirationID, in)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	case http.MethodGet:
		list, err := h.app.Projects.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) projectResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/projects"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	projectID := parts[0]
	actorID := userIDFrom(r.Context())

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			p, err := h.app.Projects.Get(r.Context(), projectID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, p)
		case http.MethodDelete:
			if err := h.app.Projects.Delete(r.Context(), actorID, projectID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "profile":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var upd projectsvc.ProfileUpdate
		if err := decodeJSON(r.Body, &upd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Projects.UpdateProfile(r.Context(), actorID, projectID, upd)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case "plan":
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var upd projectsvc.PlanUpdate
		if err := decodeJSON(r.Body, &upd); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Projects.UpdatePlan(r.Context(), actorID, projectID, upd)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case "progress":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Progress string `json:"progress"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Projects.AdvanceProgress(r.Context(), actorID, projectID, project.Progress(payload.Progress))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case "lock":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Locked bool `json:"locked"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Projects.SetLocked(r.Context(), actorID, projectID, payload.Locked)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case "state":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			State string `json:"state"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Projects.SetState(r.Context(), actorID, projectID, project.State(payload.State))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case "members":
		h.projectMembers(w, r, actorID, projectID, parts[2:])

	case "applications":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, err := h.app.Applications.ListByProject(r.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) projectMembers(w http.ResponseWriter, r *http.Request, actorID, projectID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		m, err := h.app.Projects.AddMember(r.Context(), actorID, projectID, payload.UserID, project.MembershipRole(payload.Role))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
		return
	}
	if len(rest) == 1 && r.Method == http.MethodDelete {
		if err := h.app.Projects.RemoveMember(r.Context(), actorID, projectID, rest[0]); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

// --- fund endpoints ---------------------------------------------------------

func (h *handler) funds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var in fundsvc.Input
		if err := decodeJSON(r.Body, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f, err := h.app.Funds.Create(r.Context(), userIDFrom(r.Context()), in)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)

	case http.MethodGet:
		list, err := h.app.Funds.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) fundResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/funds"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fundID := parts[0]
	actorID := userIDFrom(r.Context())

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			f, err := h.app.Funds.Get(r.Context(), fundID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, f)
		case http.MethodPatch:
			var in fundsvc.Input
			if err := decodeJSON(r.Body, &in); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			f, err := h.app.Funds.Update(r.Context(), actorID, fundID, in)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, f)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "activate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f, err := h.app.Funds.Activate(r.Context(), actorID, fundID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case "finish":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f, err := h.app.Funds.Finish(r.Context(), actorID, fundID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case "concretizations":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Question  string `json:"question"`
			MaxLength int    `json:"maxLength"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f, err := h.app.Funds.AddConcretization(r.Context(), actorID, fundID, payload.Question, payload.MaxLength)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case "criteria":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Question string `json:"question"`
			Points   int    `json:"points"`
			Jury     bool   `json:"jury"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f, err := h.app.Funds.AddCriterion(r.Context(), actorID, fundID, payload.Question, payload.Points, payload.Jury)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)

	case "applications":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		list, err := h.app.Applications.ListByFund(r.Context(), fundID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// --- application endpoints --------------------------------------------------

func (h *handler) applications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		FundID    string `json:"fundId"`
		ProjectID string `json:"projectId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := h.app.Applications.Create(r.Context(), userIDFrom(r.Context()), payload.FundID, payload.ProjectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handler) applicationResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/applications"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	applicationID := parts[0]
	actorID := userIDFrom(r.Context())

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			a, err := h.app.Applications.Get(r.Context(), applicationID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, a)
		case http.MethodPatch:
			var payload struct {
				Concretizations              map[string]string `json:"concretizations"`
				ConcretizationSelfAssessment *int              `json:"concretizationSelfAssessment"`
				RequestedFunding             *float64          `json:"requestedFunding"`
				ApplicationSelfAssessment    *int              `json:"applicationSelfAssessment"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			a, err := h.app.Applications.UpdateByApplicant(r.Context(), actorID, applicationID, applicationsvc.Update{
				Concretizations:              payload.Concretizations,
				ConcretizationSelfAssessment: payload.ConcretizationSelfAssessment,
				RequestedFunding:             payload.RequestedFunding,
				ApplicationSelfAssessment:    payload.ApplicationSelfAssessment,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, a)
		case http.MethodDelete:
			if err := h.app.Applications.Delete(r.Context(), actorID, applicationID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "submit":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a, err := h.app.Applications.Submit(r.Context(), actorID, applicationID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)

	case "rating":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Ratings map[string]application.CriterionRating `json:"ratings"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rating, err := h.app.Applications.Rate(r.Context(), actorID, applicationID, payload.Ratings)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rating)

	case "jury-comment":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Comment string `json:"comment"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a, err := h.app.Applications.SetJuryComment(r.Context(), actorID, applicationID, payload.Comment)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)

	case "jury-order":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Order int `json:"order"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a, err := h.app.Applications.SetJuryOrder(r.Context(), actorID, applicationID, payload.Order)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// --- helpers ----------------------------------------------------------------

func publicUser(u user.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
		"roles":     u.Roles,
		"active":    u.Active,
		"validated": u.Validated,
		"createdAt": u.CreatedAt,
		"deletedAt": u.DeletedAt,
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Expired gets its own status; NotFound covers token mismatches too.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case service.IsExpired(err):
		writeError(w, http.StatusGone, err)
	case service.IsForbidden(err):
		writeError(w, http.StatusForbidden, fmt.Errorf("access denied"))
	case service.IsConflict(err):
		writeError(w, http.StatusConflict, err)
	case service.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
