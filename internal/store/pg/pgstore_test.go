package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"kontakt.org/internal/contacts"
)

var contactCols = []string{"id", "user_id", "first_name", "last_name", "email", "phone", "birthday", "comments", "favorite", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestCreateContact(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	bd := contacts.NewDate(1988, time.February, 29)

	mock.ExpectQuery("insert into contacts").
		WithArgs(sqlmock.AnyArg(), "u1", "Ann", "Lee", "ann@example.com", "", bd.Time, "", false).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow("c1", "u1", "Ann", "Lee", "ann@example.com", "", bd.Time, "", false, now, now))

	c, err := store.Create(context.Background(), "u1", contacts.Input{FirstName: "Ann", LastName: "Lee", Email: "ANN@example.com", Birthday: &bd})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID != "c1" || c.Birthday == nil || c.Birthday.String() != "1988-02-29" {
		t.Fatalf("unexpected contact: %+v", c)
	}

	mock.ExpectQuery("insert into contacts").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	if _, err := store.Create(context.Background(), "u1", contacts.Input{Email: "ann@example.com"}); !errors.Is(err, contacts.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetScopedToUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("from contacts where id=\\$1 and user_id=\\$2").
		WithArgs("c1", "u2").
		WillReturnRows(sqlmock.NewRows(contactCols))
	if _, err := store.Get(context.Background(), "u2", "c1"); !errors.Is(err, contacts.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery("from contacts where id=\\$1").
		WillReturnError(errors.New("conn reset"))
	_, err := store.Get(context.Background(), "u1", "c1")
	if !errors.Is(err, contacts.ErrStore) || errors.Is(err, contacts.ErrNotFound) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
}

func TestListFavoritePaged(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	yes := true

	mock.ExpectQuery("where user_id=\\$1 and favorite = \\$2 order by id offset \\$3 limit \\$4").
		WithArgs("u1", true, 10, 20).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow("c1", "u1", "Ann", "", "ann@example.com", "", nil, "", true, now, now))

	got, err := store.List(context.Background(), "u1", contacts.ListQuery{Page: contacts.Page{Skip: 10, Limit: 20}, Favorite: &yes})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Birthday != nil {
		t.Fatalf("unexpected rows: %+v", got)
	}

	if _, err := store.List(context.Background(), "u1", contacts.ListQuery{Page: contacts.Page{Limit: 5}}); !errors.Is(err, contacts.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSearchEscapesPatterns(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("first_name ilike \\$2 and email ilike \\$3 order by id").
		WithArgs("u1", "%an%", `%50\%\_off%`, 0, 10).
		WillReturnRows(sqlmock.NewRows(contactCols))

	got, err := store.Search(context.Background(), "u1", contacts.SearchQuery{FirstName: " an ", Email: "50%_off"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("empty result must be an empty slice, got %#v", got)
	}

	if _, err := store.Search(context.Background(), "u1", contacts.SearchQuery{}); !errors.Is(err, contacts.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpcomingBirthdaysPrefilterAndExactMatch(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	leap := time.Date(1988, time.February, 29, 0, 0, 0, 0, time.UTC)
	late := time.Date(1970, time.March, 20, 0, 0, 0, 0, time.UTC)

	// 2023-03-01 + 8 days stays in March; February joins for the leap-day shift.
	mock.ExpectQuery("extract\\(month from birthday\\) in \\(\\$2,\\$3\\)\\s+order by birthday desc").
		WithArgs("u1", 3, 2).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow("c1", "u1", "Leap", "", "leap@example.com", "", leap, "", false, now, now).
			AddRow("c2", "u1", "Late", "", "late@example.com", "", late, "", false, now, now))

	got, err := store.UpcomingBirthdays(context.Background(), "u1", contacts.BirthdayQuery{
		Days: 7,
		Now:  time.Date(2023, time.March, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("UpcomingBirthdays: %v", err)
	}
	if len(got) != 1 || got[0].FirstName != "Leap" {
		t.Fatalf("want only Leap, got %+v", got)
	}

	if _, err := store.UpcomingBirthdays(context.Background(), "u1", contacts.BirthdayQuery{Days: 31}); !errors.Is(err, contacts.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteAndFavorite(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update contacts set favorite=\\$3").
		WithArgs("c1", "u1", true).
		WillReturnRows(sqlmock.NewRows(contactCols).
			AddRow("c1", "u1", "Ann", "", "ann@example.com", "", nil, "", true, now, now))
	c, err := store.SetFavorite(context.Background(), "u1", "c1", true)
	if err != nil || !c.Favorite {
		t.Fatalf("SetFavorite: %+v %v", c, err)
	}

	mock.ExpectQuery("delete from contacts where id=\\$1 and user_id=\\$2").
		WithArgs("c9", "u1").
		WillReturnRows(sqlmock.NewRows(contactCols))
	if _, err := store.Delete(context.Background(), "u1", "c9"); !errors.Is(err, contacts.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
