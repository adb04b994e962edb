package ingest

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/wonny/stratstats/internal/contracts"
)

// recordFields is the validated view of one record
type recordFields struct {
	Date            time.Time       `json:"date" validate:"stats_date_set,stats_min_date,stats_not_future"`
	DepWdAmount     decimal.Decimal `json:"depWdAmount" validate:"stats_max_abs"`
	DailyProfitLoss decimal.Decimal `json:"dailyProfitLoss" validate:"stats_max_abs"`
}

// FieldValidator is the second validation pass; it implements contracts.RecordValidator
type FieldValidator struct {
	validate *validator.Validate
	rules    *Rules
	now      func() time.Time
}

// NewFieldValidator registers the custom tags bound to rules
func NewFieldValidator(rules *Rules) *FieldValidator {
	fv := &FieldValidator{
		validate: validator.New(),
		rules:    rules,
		now:      time.Now,
	}

	// Use JSON tag names in problems
	fv.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimals are validated through their canonical string
	fv.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	mustRegister(fv.validate, "stats_date_set", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.IsZero()
	})
	mustRegister(fv.validate, "stats_min_date", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && (fv.rules.minDate.IsZero() || !t.Before(fv.rules.minDate))
	})
	mustRegister(fv.validate, "stats_not_future", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && (fv.rules.AllowFutureDates || !contracts.NormalizeDate(t).After(contracts.NormalizeDate(fv.now())))
	})
	mustRegister(fv.validate, "stats_max_abs", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.Abs().LessThanOrEqual(fv.rules.maxAbsAmount)
	})

	return fv
}

// WithClock replaces the clock used by the future-date rule
func (fv *FieldValidator) WithClock(now func() time.Time) *FieldValidator {
	fv.now = now
	return fv
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// ValidateRecords checks every record and lists every violation.
// rowNumbers maps records to file rows; nil numbers records from 1.
func (fv *FieldValidator) ValidateRecords(records []*contracts.DailyRecord, rowNumbers []int) []contracts.RowError {
	var problems []contracts.RowError
	for i, rec := range records {
		row := i + 1
		if i < len(rowNumbers) {
			row = rowNumbers[i]
		}

		err := fv.validate.Struct(recordFields{
			Date:            rec.Date,
			DepWdAmount:     rec.DepWd(),
			DailyProfitLoss: rec.ProfitLoss(),
		})
		if err == nil {
			continue
		}

		var fieldErrs validator.ValidationErrors
		if !asValidationErrors(err, &fieldErrs) {
			problems = append(problems, contracts.RowError{
				Row: row, Kind: contracts.KindFieldValidationFailed, Message: err.Error(),
			})
			continue
		}
		for _, fe := range fieldErrs {
			problems = append(problems, contracts.RowError{
				Row:     row,
				Column:  fe.Field(),
				Kind:    contracts.KindFieldValidationFailed,
				Message: fv.message(fe),
			})
		}
	}
	return problems
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	ve, ok := err.(validator.ValidationErrors)
	if ok {
		*target = ve
	}
	return ok
}

// message formats one violation
func (fv *FieldValidator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "stats_date_set":
		return "date is required"
	case "stats_min_date":
		return fmt.Sprintf("date must not be before %s", fv.rules.MinDate)
	case "stats_not_future":
		return "date must not be in the future"
	case "stats_max_abs":
		return fmt.Sprintf("%s must be within ±%s", fe.Field(), fv.rules.maxAbsAmount.String())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
