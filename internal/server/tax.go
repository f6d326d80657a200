package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
)

type taxEntryRequest struct {
	Name    string          `json:"name"`
	Percent decimal.Decimal `json:"percent"`
}

type createTaxClassRequest struct {
	Code            string            `json:"code"`
	Name            string            `json:"name"`
	CombinationMode string            `json:"combination_mode"`
	Entries         []taxEntryRequest `json:"entries"`
	Description     *string           `json:"description"`
	Metadata        map[string]any    `json:"metadata"`
	IsEnabled       *bool             `json:"is_enabled"`
}

type updateTaxClassRequest struct {
	Name            *string           `json:"name,omitempty"`
	CombinationMode *string           `json:"combination_mode,omitempty"`
	Entries         []taxEntryRequest `json:"entries,omitempty"`
	Description     *string           `json:"description,omitempty"`
}

type calculateTaxRequest struct {
	TaxClassCode    string            `json:"tax_class_code"`
	Entries         []taxEntryRequest `json:"entries"`
	CombinationMode string            `json:"combination_mode"`
	CalculationMode string            `json:"calculation_mode"`
	Amount          *decimal.Decimal  `json:"amount"`
}

func (s *Server) CreateTaxClass(c *gin.Context) {
	var req createTaxClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.taxSvc.Create(c.Request.Context(), taxdomain.CreateRequest{
		Code:            strings.TrimSpace(req.Code),
		Name:            strings.TrimSpace(req.Name),
		CombinationMode: taxdomain.CombinationMode(strings.TrimSpace(req.CombinationMode)),
		Entries:         toEntryRequests(req.Entries),
		Description:     trimTaxString(req.Description),
		Metadata:        req.Metadata,
		IsEnabled:       req.IsEnabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListTaxClasses(c *gin.Context) {
	var query struct {
		Name      string `form:"name"`
		Code      string `form:"code"`
		IsEnabled string `form:"is_enabled"`
		SortBy    string `form:"sort_by"`
		OrderBy   string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	isEnabled, err := parseOptionalBool(query.IsEnabled)
	if err != nil {
		AbortWithError(c, newValidationError("is_enabled", "invalid_is_enabled", "invalid is_enabled"))
		return
	}

	resp, err := s.taxSvc.List(c.Request.Context(), taxdomain.ListRequest{
		Name:      strings.TrimSpace(query.Name),
		Code:      strings.TrimSpace(query.Code),
		IsEnabled: isEnabled,
		SortBy:    strings.TrimSpace(query.SortBy),
		OrderBy:   strings.TrimSpace(query.OrderBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTaxClass(c *gin.Context) {
	resp, err := s.taxSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateTaxClass(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateTaxClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var mode *taxdomain.CombinationMode
	if req.CombinationMode != nil {
		trimmed := taxdomain.CombinationMode(strings.TrimSpace(*req.CombinationMode))
		mode = &trimmed
	}

	resp, err := s.taxSvc.Update(c.Request.Context(), taxdomain.UpdateRequest{
		ID:              id,
		Name:            trimTaxString(req.Name),
		CombinationMode: mode,
		Entries:         toEntryRequests(req.Entries),
		Description:     trimTaxString(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisableTaxClass(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.taxSvc.Disable(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CalculateTax(c *gin.Context) {
	var req calculateTaxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Amount == nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "amount is required"))
		return
	}

	resp, err := s.taxSvc.Calculate(c.Request.Context(), taxdomain.CalculateRequest{
		TaxClassCode:    strings.TrimSpace(req.TaxClassCode),
		Entries:         toEntryRequests(req.Entries),
		CombinationMode: taxdomain.CombinationMode(strings.TrimSpace(req.CombinationMode)),
		CalculationMode: taxdomain.CalculationMode(strings.TrimSpace(req.CalculationMode)),
		Amount:          *req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// toEntryRequests keeps nil as nil so PATCH can tell "absent" from "empty".
func toEntryRequests(entries []taxEntryRequest) []taxdomain.EntryRequest {
	if entries == nil {
		return nil
	}
	out := make([]taxdomain.EntryRequest, 0, len(entries))
	for _, entry := range entries {
		out = append(out, taxdomain.EntryRequest{
			Name:    strings.TrimSpace(entry.Name),
			Percent: entry.Percent,
		})
	}
	return out
}

func trimTaxString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
