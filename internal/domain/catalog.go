package domain

// Semester is the cohort a student belongs to.
type Semester string

const (
	FirstSemester  Semester = "First Semester"
	SecondSemester Semester = "Second Semester"
)

// Semesters lists the selectable semesters in display order.
var Semesters = []Semester{FirstSemester, SecondSemester}

var streamsBySemester = map[Semester][]string{
	FirstSemester:  {"Social Science", "Natural Science"},
	SecondSemester: {"Pre-Engineering", "Other Natural Science", "Social Science", "Health Science"},
}

// Genders lists the selectable genders.
var Genders = []string{"Male", "Female"}

// ParseSemester maps free-form input onto a known semester.
func ParseSemester(s string) (Semester, bool) {
	for _, sem := range Semesters {
		if string(sem) == s {
			return sem, true
		}
	}
	return "", false
}

// StreamsFor returns the streams offered for a semester.
func StreamsFor(sem Semester) []string {
	return append([]string(nil), streamsBySemester[sem]...)
}

// ValidStream reports whether stream is offered for sem.
func ValidStream(sem Semester, stream string) bool {
	for _, s := range streamsBySemester[sem] {
		if s == stream {
			return true
		}
	}
	return false
}

// ValidGender reports whether g is a selectable gender.
func ValidGender(g string) bool {
	for _, v := range Genders {
		if v == g {
			return true
		}
	}
	return false
}

// Cohort selects the audience of an announcement.
type Cohort string

const (
	CohortFirst  Cohort = Cohort(FirstSemester)
	CohortSecond Cohort = Cohort(SecondSemester)
	CohortAll    Cohort = "all"
)

// Cohorts lists the announcement audiences in display order.
var Cohorts = []Cohort{CohortFirst, CohortSecond, CohortAll}

// ParseCohort maps button payloads onto a cohort.
func ParseCohort(s string) (Cohort, bool) {
	for _, c := range Cohorts {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Matches reports whether a user of the given semester belongs to the cohort.
func (c Cohort) Matches(sem Semester) bool {
	return c == CohortAll || string(c) == string(sem)
}

// Label is the human readable cohort name.
func (c Cohort) Label() string {
	if c == CohortAll {
		return "All Students"
	}
	return string(c)
}

// PaymentMethod is a payment channel with the instructions shown to the user.
type PaymentMethod struct {
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
	Account      string `yaml:"account"`
}

// DefaultPaymentMethods is used when the configuration does not define any.
func DefaultPaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		{Name: "Telebirr", Instructions: "Please transfer 120 birr to:", Account: "0927429565 (ABDULMEJID SEHAB)"},
		{Name: "CBE", Instructions: "Please transfer 120 birr to:", Account: "1000417007192 (ABDULMEJID SEHAB)"},
		{Name: "mPesa", Instructions: "Please transfer 120 birr to:", Account: "0927429565 (ABDULMEJID SEHAB)"},
	}
}

// FindPaymentMethod looks a method up by name.
func FindPaymentMethod(methods []PaymentMethod, name string) (PaymentMethod, bool) {
	for _, m := range methods {
		if m.Name == name {
			return m, true
		}
	}
	return PaymentMethod{}, false
}
