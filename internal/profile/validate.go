package profile

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/gyaanguru/tutor/internal/domain"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	// custom validation tags
	notBlankTag      = "notblank"
	gradeTag         = "grade"
	teachingStyleTag = "teaching_style"
)

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterValidation(gradeTag, gradeValidation)
	_ = validate.RegisterValidation(teachingStyleTag, teachingStyleValidation)

	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, gradeTag, teachingStyleTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustomErr)
	}
}

func translateCustomErr(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return "this field cannot be blank"
	case gradeTag:
		return "class must be between 1 and 12"
	case teachingStyleTag:
		return "unknown teaching style"
	default:
		return ""
	}
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func gradeValidation(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(strings.TrimSpace(fl.Field().String()))
	return err == nil && n >= 1 && n <= 12
}

func teachingStyleValidation(fl validator.FieldLevel) bool {
	return domain.TeachingStyle(fl.Field().String()).Valid()
}

// FieldErrors maps JSON field names to human-readable problems.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	return "invalid profile"
}

// Normalize trims free-text fields and canonicalises the teaching style so
// that input such as "patient and slow" is accepted.
func Normalize(p *domain.LearnerProfile) {
	p.Name = strings.TrimSpace(p.Name)
	p.Grade = strings.TrimSpace(p.Grade)
	p.PreferredLanguage = strings.TrimSpace(p.PreferredLanguage)
	p.Strengths = strings.TrimSpace(p.Strengths)
	p.Weaknesses = strings.TrimSpace(p.Weaknesses)
	p.Goals = strings.TrimSpace(p.Goals)
	p.DailyStudyTime = strings.TrimSpace(p.DailyStudyTime)
	if style, ok := domain.ParseTeachingStyle(string(p.TeachingStyle)); ok {
		p.TeachingStyle = style
	}
	subjects := p.Subjects[:0]
	for _, s := range p.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}
	p.Subjects = subjects
}

// Validate checks a profile before it is saved. It returns FieldErrors when
// the profile is invalid.
func Validate(p domain.LearnerProfile) error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(FieldErrors, len(verrs))
	for _, ve := range verrs {
		out[ve.Field()] = ve.Translate(translator)
	}
	return out
}

// Choices is the set of offered languages, study times and subjects a profile
// is checked against.
type Choices interface {
	HasLanguage(lang string) bool
	HasStudyTime(t string) bool
	HasSubject(subject string) bool
}

// CheckChoices reports picks that are not on offer. Blank optional fields pass.
func CheckChoices(p domain.LearnerProfile, c Choices) FieldErrors {
	out := FieldErrors{}
	if p.PreferredLanguage != "" && !c.HasLanguage(p.PreferredLanguage) {
		out["preferred_language"] = fmt.Sprintf("unknown language %q", p.PreferredLanguage)
	}
	if p.DailyStudyTime != "" && !c.HasStudyTime(p.DailyStudyTime) {
		out["daily_study_time"] = fmt.Sprintf("unknown study time %q", p.DailyStudyTime)
	}
	for _, s := range p.Subjects {
		if !c.HasSubject(s) {
			out["subjects"] = fmt.Sprintf("unknown subject %q", s)
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
