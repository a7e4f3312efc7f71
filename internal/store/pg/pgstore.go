package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kontakt.org/internal/contacts"
	"kontakt.org/internal/ids"
)

const pgUniqueViolation = "23505"

// Store is the PostgreSQL address book.
type Store struct {
	db *sql.DB
}

var _ contacts.Service = (*Store)(nil)

// Open connects through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const contactColumns = `id, user_id, first_name, last_name, email, phone, birthday, comments, favorite, created_at, updated_at`

func (s *Store) Create(ctx context.Context, userID string, in contacts.Input) (contacts.Contact, error) {
	in, err := in.Normalize()
	if err != nil {
		return contacts.Contact{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into contacts(id, user_id, first_name, last_name, email, phone, birthday, comments, favorite)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		returning `+contactColumns,
		ids.New(), userID, in.FirstName, in.LastName, in.Email, in.Phone, birthdayArg(in.Birthday), in.Comments, in.Favorite)
	return scanContact(row)
}

func (s *Store) Get(ctx context.Context, userID, id string) (contacts.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+contactColumns+` from contacts where id=$1 and user_id=$2`, id, userID)
	return scanContact(row)
}

func (s *Store) List(ctx context.Context, userID string, q contacts.ListQuery) ([]contacts.Contact, error) {
	page, err := q.Page.Normalize()
	if err != nil {
		return nil, err
	}
	b := newQuery(`select `+contactColumns+` from contacts where user_id=$1`, userID)
	if q.Favorite != nil {
		b.where("favorite", "=", *q.Favorite)
	}
	b.page(page)
	return s.queryContacts(ctx, b.sql.String(), b.args...)
}

func (s *Store) Update(ctx context.Context, userID, id string, in contacts.Input) (contacts.Contact, error) {
	in, err := in.Normalize()
	if err != nil {
		return contacts.Contact{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update contacts
		set first_name=$3, last_name=$4, email=$5, phone=$6, birthday=$7, comments=$8, favorite=$9, updated_at=now()
		where id=$1 and user_id=$2
		returning `+contactColumns,
		id, userID, in.FirstName, in.LastName, in.Email, in.Phone, birthdayArg(in.Birthday), in.Comments, in.Favorite)
	return scanContact(row)
}

func (s *Store) SetFavorite(ctx context.Context, userID, id string, favorite bool) (contacts.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		update contacts set favorite=$3, updated_at=now()
		where id=$1 and user_id=$2
		returning `+contactColumns, id, userID, favorite)
	return scanContact(row)
}

func (s *Store) Delete(ctx context.Context, userID, id string) (contacts.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from contacts where id=$1 and user_id=$2 returning `+contactColumns, id, userID)
	return scanContact(row)
}

func (s *Store) Search(ctx context.Context, userID string, q contacts.SearchQuery) ([]contacts.Contact, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	b := newQuery(`select `+contactColumns+` from contacts where user_id=$1`, userID)
	if q.FirstName != "" {
		b.where("first_name", "ilike", likePattern(q.FirstName))
	}
	if q.LastName != "" {
		b.where("last_name", "ilike", likePattern(q.LastName))
	}
	if q.Email != "" {
		b.where("email", "ilike", likePattern(q.Email))
	}
	b.page(q.Page)
	return s.queryContacts(ctx, b.sql.String(), b.args...)
}

// UpcomingBirthdays narrows rows by birth month in SQL and leaves the exact
// day arithmetic and pagination to contacts.FilterUpcoming.
func (s *Store) UpcomingBirthdays(ctx context.Context, userID string, q contacts.BirthdayQuery) ([]contacts.Contact, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	months := contacts.WindowMonths(q.Now, q.Days)
	args := []any{userID}
	holders := make([]string, len(months))
	for i, m := range months {
		args = append(args, int(m))
		holders[i] = fmt.Sprintf("$%d", i+2)
	}
	query := `select ` + contactColumns + ` from contacts
		where user_id=$1 and birthday is not null and extract(month from birthday) in (` + strings.Join(holders, ",") + `)
		order by birthday desc`
	candidates, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return contacts.FilterUpcoming(candidates, q), nil
}

func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]contacts.Contact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	res := []contacts.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (contacts.Contact, error) {
	var (
		c        contacts.Contact
		birthday sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
		&birthday, &c.Comments, &c.Favorite, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return contacts.Contact{}, contacts.ErrNotFound
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgUniqueViolation {
			return contacts.Contact{}, contacts.ErrAlreadyExists
		}
		return contacts.Contact{}, storeErr(err)
	}
	if birthday.Valid {
		d := contacts.NewDate(birthday.Time.Date())
		c.Birthday = &d
	}
	return c, nil
}

// queryBuilder appends "and col op $n" clauses with numbered placeholders.
type queryBuilder struct {
	sql  strings.Builder
	args []any
}

func newQuery(base string, args ...any) *queryBuilder {
	b := &queryBuilder{args: args}
	b.sql.WriteString(base)
	return b
}

func (b *queryBuilder) where(col, op string, v any) {
	b.args = append(b.args, v)
	fmt.Fprintf(&b.sql, " and %s %s $%d", col, op, len(b.args))
}

func (b *queryBuilder) page(p contacts.Page) {
	b.args = append(b.args, p.Skip, p.Limit)
	fmt.Fprintf(&b.sql, " order by id offset $%d limit $%d", len(b.args)-1, len(b.args))
}

// likePattern escapes LIKE metacharacters and wraps s for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func birthdayArg(d *contacts.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.Time
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", contacts.ErrStore, err)
}
