package reports

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/utils"
)

const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// ReportQuery is a validated report request.
type ReportQuery struct {
	Metric     models.ReportMetric
	Mode       models.TimeMode
	MerchantId string
	Format     string
}

type reportQueryParams struct {
	Type       string `param:"type" validate:"oneof=count amount"`
	Mode       string `param:"mode" validate:"oneof=daily weekly monthly"`
	MerchantId string `param:"merchantId" validate:"omitempty,uuid"`
	Format     string `param:"format" validate:"oneof=json xlsx"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("param")
	})
	return v
}

// ParseReportQuery applies defaults (type=count, mode=daily, format=json)
// and validates the raw query parameters.
func ParseReportQuery(typ, mode, merchantId, format string) (ReportQuery, error) {
	p := reportQueryParams{
		Type:       withDefault(strings.ToLower(strings.TrimSpace(typ)), string(models.ReportMetricCount)),
		Mode:       withDefault(strings.ToLower(strings.TrimSpace(mode)), models.TimeModeDaily.String()),
		MerchantId: strings.TrimSpace(merchantId),
		Format:     withDefault(strings.ToLower(strings.TrimSpace(format)), FormatJSON),
	}
	if err := validate.Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return ReportQuery{}, &utils.InvalidArgumentError{
				Param:  fe.Field(),
				Value:  fe.Value().(string),
				Reason: reason(fe),
			}
		}
		return ReportQuery{}, err
	}

	metric, err := models.ParseReportMetric(p.Type)
	if err != nil {
		return ReportQuery{}, &utils.InvalidArgumentError{Param: "type", Value: typ, Reason: err.Error()}
	}
	tm, err := models.ParseTimeMode(p.Mode)
	if err != nil {
		return ReportQuery{}, &utils.InvalidArgumentError{Param: "mode", Value: mode, Reason: err.Error()}
	}
	return ReportQuery{Metric: metric, Mode: tm, MerchantId: p.MerchantId, Format: p.Format}, nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid":
		return "must be a UUID"
	}
	return "failed " + fe.Tag()
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
