package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"kontakt.org/internal/contacts"
)

// FakeContact builds a plausible contact from f. n keeps emails distinct
// within one run; every tenth contact is born on 29 February.
func FakeContact(f *gofakeit.Faker, n int) contacts.Input {
	first, last := f.FirstName(), f.LastName()

	var birthday contacts.Date
	if n%10 == 9 {
		year := f.Number(1950, 2004) &^ 3
		birthday = contacts.NewDate(year, time.February, 29)
	} else {
		born := f.DateRange(time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2005, 12, 31, 0, 0, 0, 0, time.UTC))
		birthday = contacts.NewDate(born.Year(), born.Month(), born.Day())
	}

	return contacts.Input{
		FirstName: first,
		LastName:  last,
		Email:     fmt.Sprintf("%s.%s.%d@%s", slug(first), slug(last), n, f.DomainName()),
		Phone:     "+1" + f.Phone(),
		Birthday:  &birthday,
		Comments:  f.JobTitle() + " at " + f.Company(),
		Favorite:  f.Bool(),
	}
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}
