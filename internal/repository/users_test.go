package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mishura/stylist/internal/models"
)

func setupUsers(t *testing.T) (*PostgresUserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresUserRepository(db), mock
}

func TestUpsertUser(t *testing.T) {
	tests := []struct {
		name        string
		row         []driver.Value
		wantCreated bool
		wantBalance int
	}{
		{name: "new user", row: []driver.Value{"anna", 200, 0, true}, wantCreated: true, wantBalance: 200},
		{name: "returning user keeps balance", row: []driver.Value{"anna", 35, 4, false}, wantBalance: 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupUsers(t)
			mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (id, username, balance) VALUES ($1, $2, $3)`)).
				WithArgs("tg_1", "anna", 200).
				WillReturnRows(sqlmock.NewRows([]string{"username", "balance", "consultations_used", "inserted"}).AddRow(tt.row...))

			u, created, err := repo.UpsertUser(context.Background(), "tg_1", "anna", 200)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if created != tt.wantCreated || u.Balance != tt.wantBalance || u.ID != "tg_1" {
				t.Errorf("got %+v created=%v", u, created)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestUpsertUser_Error(t *testing.T) {
	repo, mock := setupUsers(t)
	mock.ExpectQuery("INSERT INTO users").WillReturnError(errors.New("conn reset"))

	_, _, err := repo.UpsertUser(context.Background(), "tg_1", "", 200)
	if err == nil || !regexp.MustCompile(`upsert user: conn reset`).MatchString(err.Error()) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestGetUser(t *testing.T) {
	repo, mock := setupUsers(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT username, balance, consultations_used FROM users WHERE id = $1`)).
		WithArgs("tg_1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "balance", "consultations_used"}).AddRow("", 120, 8))
	mock.ExpectQuery("SELECT username").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"username", "balance", "consultations_used"}))

	u, err := repo.GetUser(context.Background(), "tg_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Balance != 120 || u.ConsultationsUsed != 8 {
		t.Errorf("unexpected user %+v", u)
	}

	if _, err := repo.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	repo, mock := setupUsers(t)
	newer := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM consultations`)).
		WithArgs("tg_1", 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "occasion", "preferences", "advice", "images_count", "cost", "created_at"}).
			AddRow("c2", "compare", "date", "", "second", 3, 10, newer).
			AddRow("c1", "single", "work", "black", "first", 1, 10, older))

	got, err := repo.History(context.Background(), "tg_1", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c2" || got[1].Kind != models.SingleAnalysis {
		t.Errorf("unexpected history %+v", got)
	}
}

func TestHistory_Empty(t *testing.T) {
	repo, mock := setupUsers(t)
	mock.ExpectQuery("FROM consultations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "occasion", "preferences", "advice", "images_count", "cost", "created_at"}))

	got, err := repo.History(context.Background(), "tg_1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func testConsultation() models.Consultation {
	return models.Consultation{
		ID: "c1", UserID: "tg_1", Kind: models.SingleAnalysis, Occasion: "work",
		Advice: "ok", ImagesCount: 1, Cost: 10, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestChargeConsultation_Success(t *testing.T) {
	repo, mock := setupUsers(t)
	c := testConsultation()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1 FOR UPDATE`)).
		WithArgs("tg_1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(15))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET balance = balance - $1`)).
		WithArgs(10, "tg_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO consultations`)).
		WithArgs(c.ID, c.UserID, c.Kind, c.Occasion, c.Preferences, c.Advice, c.ImagesCount, c.Cost, c.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	balance, err := repo.ChargeConsultation(context.Background(), c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 5 {
		t.Errorf("balance = %d; want 5", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestChargeConsultation_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{name: "insufficient", rows: sqlmock.NewRows([]string{"balance"}).AddRow(9), wantErr: ErrInsufficientBalance},
		{name: "unknown user", rows: sqlmock.NewRows([]string{"balance"}), wantErr: ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := setupUsers(t)
			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE").WithArgs("tg_1").WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err := repo.ChargeConsultation(context.Background(), testConsultation())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v; want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestChargeConsultation_InsertFails(t *testing.T) {
	repo, mock := setupUsers(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO consultations").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := repo.ChargeConsultation(context.Background(), testConsultation()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("debit must be rolled back: %v", err)
	}
}
