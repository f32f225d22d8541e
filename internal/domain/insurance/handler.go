package insurance

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/afyalink"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
	"github.com/hms/hms/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := api.Group("", auth.RequireRole(auth.RoleClaimsOfficer, auth.RoleBilling, auth.RoleReception))
	front.POST("/insurance/eligibility", h.VerifyEligibility)

	officer := api.Group("", auth.RequireRole(auth.RoleClaimsOfficer, auth.RoleBilling))
	officer.GET("/insurance/audit-logs", h.ListAuditLogs)

	officer.POST("/claims", h.SubmitClaim)
	officer.GET("/claims", h.ListClaims)
	officer.GET("/claims/statistics", h.ClaimStatistics)
	officer.GET("/claims/:id", h.GetClaim)
	officer.GET("/claims/:id/status", h.RefreshClaimStatus)
	officer.POST("/claims/:id/documents", h.UploadDocument)

	officer.POST("/preauthorizations", h.CreatePreauthorization)
	officer.GET("/preauthorizations", h.ListPreauthorizations)
	officer.GET("/preauthorizations/:id", h.GetPreauthorization)
	officer.POST("/preauthorizations/:id/submit", h.SubmitPreauthorization)
	officer.GET("/preauthorizations/:id/status", h.RefreshPreauthorizationStatus)
}

func (h *Handler) VerifyEligibility(c echo.Context) error {
	var req EligibilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.VerifyEligibility(c.Request().Context(), req.NationalID, req.SchemeCode, req.PatientID)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, res)
}

func (h *Handler) ListAuditLogs(c echo.Context) error {
	filter := AuditFilter{Action: c.QueryParam("action")}
	id, err := optionalUUID(c, "patient_id")
	if err != nil {
		return err
	}
	filter.PatientID = id

	pg := pagination.FromContext(c)
	logs, total, err := h.svc.ListAuditLogs(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, pagination.NewResponse(logs, total, pg, c.Request().URL.Path))
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	var req ClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	claim, err := h.svc.SubmitClaim(c.Request().Context(), &req)
	if err != nil {
		return insuranceError(err)
	}
	return response.Created(c, claim)
}

func (h *Handler) ListClaims(c echo.Context) error {
	filter, err := claimFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	claims, total, err := h.svc.ListClaims(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, pagination.NewResponse(claims, total, pg, c.Request().URL.Path))
}

func (h *Handler) ClaimStatistics(c echo.Context) error {
	filter, err := claimFilter(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.ClaimStatistics(c.Request().Context(), filter)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, stats)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, claim)
}

func (h *Handler) RefreshClaimStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claim, err := h.svc.RefreshClaimStatus(c.Request().Context(), id)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, claim)
}

func (h *Handler) UploadDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	up := DocumentUpload{DocumentType: c.FormValue("document_type")}
	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, MaxDocumentSize+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		up.FileName = fh.Filename
		up.ContentType = fh.Header.Get(echo.HeaderContentType)
		up.Content = content
	}

	att, err := h.svc.UploadClaimDocument(c.Request().Context(), id, up)
	if err != nil {
		return insuranceError(err)
	}
	return response.WithMessage(c, http.StatusOK, "Document uploaded successfully", att)
}

func (h *Handler) CreatePreauthorization(c echo.Context) error {
	var req PreauthRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.CreatePreauthorization(c.Request().Context(), &req)
	if err != nil {
		return insuranceError(err)
	}
	return response.Created(c, p)
}

func (h *Handler) ListPreauthorizations(c echo.Context) error {
	filter := PreauthFilter{Status: c.QueryParam("status")}
	id, err := optionalUUID(c, "patient_id")
	if err != nil {
		return err
	}
	filter.PatientID = id

	pg := pagination.FromContext(c)
	list, total, err := h.svc.ListPreauthorizations(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, pagination.NewResponse(list, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetPreauthorization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPreauthorization(c.Request().Context(), id)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, p)
}

func (h *Handler) SubmitPreauthorization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.SubmitPreauthorization(c.Request().Context(), id)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, p)
}

func (h *Handler) RefreshPreauthorizationStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.RefreshPreauthorizationStatus(c.Request().Context(), id)
	if err != nil {
		return insuranceError(err)
	}
	return response.OK(c, p)
}

func claimFilter(c echo.Context) (ClaimFilter, error) {
	filter := ClaimFilter{Status: c.QueryParam("status")}
	id, err := optionalUUID(c, "patient_id")
	if err != nil {
		return filter, err
	}
	filter.PatientID = id
	if filter.InvoiceID, err = optionalUUID(c, "invoice_id"); err != nil {
		return filter, err
	}
	return filter, nil
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func insuranceError(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return response.Error(http.StatusUnprocessableEntity, "Validation failed", verr.Fields)
	}
	if ae := afyalink.AsError(err); ae != nil {
		code := ae.StatusCode
		if code < http.StatusBadRequest {
			code = http.StatusBadGateway
		}
		return response.Error(code, ae.Message, nil).SetInternal(err)
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrClaimExists), errors.Is(err, ErrSubmissionInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
