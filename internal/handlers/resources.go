package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"datalab-service/internal/models"
)

// resource describes one structural table exposed read-only.
type resource struct {
	table   string
	columns []string
	// joins adds related codes, selected through extra.
	joins []string
	extra []string
}

var resources = map[string]resource{
	"geographies": {table: "geographies", columns: []string{"type", "subclass"}},
	"countries":   {table: "countries", columns: []string{"region", "subregion"}},
	"surveys": {
		table:   "surveys",
		columns: []string{"type", "year", "round", "start_date", "end_date"},
		joins: []string{
			"JOIN countries ON countries.id = surveys.country_id",
			"LEFT JOIN geographies ON geographies.id = surveys.geography_id",
		},
		extra: []string{"countries.code AS country", "geographies.code AS geography"},
	},
	"characteristic_groups": {table: "characteristic_groups"},
	"characteristics": {
		table: "characteristics",
		joins: []string{"JOIN characteristic_groups ON characteristic_groups.id = characteristics.char_grp_id"},
		extra: []string{"characteristic_groups.code AS char_grp"},
	},
	"indicators": {table: "indicators", columns: []string{"type", "measurement_type", "abbreviation", "is_favorite"}},
}

// resourceFilters are the only query parameters a resource listing accepts.
var resourceFilters = map[string]bool{"code": true}

func resourceNames() []string {
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r resource) selects() []string {
	out := []string{
		r.table + ".code AS id",
		r.table + ".ordering AS ordering",
		"english_strings.code AS label_code",
		"english_strings.english AS label",
	}
	for _, col := range r.columns {
		out = append(out, r.table+"."+col)
	}
	return append(out, r.extra...)
}

// listResourceHandler godoc
// @Summary List a structural resource
// @Description Lists geographies, countries, surveys, characteristic_groups, characteristics or indicators in load order. Only the code filter is accepted.
// @Tags resources
// @Produce json
// @Param resource path string true "Resource name"
// @Param code query string false "Exact code"
// @Success 200 {array} map[string]interface{}
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Router /api/v1/resources/{resource} [get]
func (a *API) listResourceHandler(c *gin.Context) {
	name := c.Param("resource")
	res, ok := resources[name]
	if !ok {
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeNotFound, "Unknown resource.", gin.H{"resource": name, "allowed": resourceNames()})
		return
	}
	for key := range c.Request.URL.Query() {
		if !resourceFilters[key] {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidFilter, "Unsupported filter.", gin.H{"filter": key, "allowed": []string{"code"}})
			return
		}
	}

	q := a.db.WithContext(c.Request.Context()).Table(res.table).
		Select(strings.Join(res.selects(), ", ")).
		Joins("LEFT JOIN english_strings ON english_strings.id = " + res.table + ".label_id")
	for _, j := range res.joins {
		q = q.Joins(j)
	}
	if code, ok := c.GetQuery("code"); ok {
		q = q.Where(res.table+".code = ?", code)
	}

	var rows []map[string]interface{}
	if err := q.Order(res.table + ".ordering").Find(&rows).Error; err != nil {
		a.respondWithErr(c, err, "Failed to list "+name+".")
		return
	}
	for _, row := range rows {
		row["order"] = row["ordering"]
		delete(row, "ordering")
	}
	if rows == nil {
		rows = []map[string]interface{}{}
	}
	RespondWithSuccess(c, http.StatusOK, rows)
}
