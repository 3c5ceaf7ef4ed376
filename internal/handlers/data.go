package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"datalab-service/internal/models"
)

// DatumView is one measurement as served to clients.
type DatumView struct {
	ID        string   `json:"id"`
	Survey    string   `json:"survey"`
	Indicator string   `json:"indicator"`
	Char1     string   `json:"char1"`
	Char2     string   `json:"char2"`
	Geography string   `json:"geography"`
	Value     *float64 `json:"value"`
	LowerCI   *float64 `json:"lower_ci"`
	UpperCI   *float64 `json:"upper_ci"`
	Precision *int     `json:"precision"`
	IsTotal   bool     `json:"is_total"`
}

type datumRow struct {
	ID        string
	Survey    string
	Indicator string
	Char1     *string
	Char2     *string
	Geography *string
	Value     *float64
	LowerCI   *float64
	UpperCI   *float64
	Precision *int
	IsTotal   bool
}

func orNone(s *string) string {
	if s == nil || *s == "" {
		return NonePlaceholder
	}
	return *s
}

func splitCodes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// dataFilters maps query parameters onto the column they filter.
var dataFilters = map[string]string{
	"survey":         "surveys.code",
	"indicator":      "indicators.code",
	"characteristic": "c1.code",
}

// listDataHandler godoc
// @Summary List measurements
// @Description Filters by comma-separated survey, indicator and characteristic codes. Absent characteristics and geographies are reported as "none".
// @Tags data
// @Produce json
// @Param survey query string false "Survey codes"
// @Param indicator query string false "Indicator codes"
// @Param characteristic query string false "Characteristic codes"
// @Success 200 {array} DatumView
// @Failure 400 {object} models.APIError
// @Router /api/v1/data [get]
func (a *API) listDataHandler(c *gin.Context) {
	q := a.db.WithContext(c.Request.Context()).Table("data").
		Select(`data.code AS id, surveys.code AS survey, indicators.code AS indicator,
			c1.code AS char1, c2.code AS char2, geographies.code AS geography,
			data.value, data.lower_ci, data.upper_ci, data."precision", data.is_total`).
		Joins("JOIN surveys ON surveys.id = data.survey_id").
		Joins("JOIN indicators ON indicators.id = data.indicator_id").
		Joins("LEFT JOIN characteristics c1 ON c1.id = data.char1_id").
		Joins("LEFT JOIN characteristics c2 ON c2.id = data.char2_id").
		Joins("LEFT JOIN geographies ON geographies.id = data.geography_id")

	for key, values := range c.Request.URL.Query() {
		column, ok := dataFilters[key]
		if !ok {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidFilter, "Unsupported filter.", gin.H{"filter": key, "allowed": []string{"survey", "indicator", "characteristic"}})
			return
		}
		codes := splitCodes(strings.Join(values, ","))
		if len(codes) == 0 {
			continue
		}
		q = q.Where(column+" IN ?", codes)
	}

	var rows []datumRow
	if err := q.Order("surveys.ordering, indicators.ordering, data.id").Scan(&rows).Error; err != nil {
		a.respondWithErr(c, err, "Failed to list data.")
		return
	}
	out := make([]DatumView, 0, len(rows))
	for _, r := range rows {
		out = append(out, DatumView{
			ID: r.ID, Survey: r.Survey, Indicator: r.Indicator,
			Char1: orNone(r.Char1), Char2: orNone(r.Char2), Geography: orNone(r.Geography),
			Value: r.Value, LowerCI: r.LowerCI, UpperCI: r.UpperCI, Precision: r.Precision, IsTotal: r.IsTotal,
		})
	}
	RespondWithSuccess(c, http.StatusOK, out)
}
