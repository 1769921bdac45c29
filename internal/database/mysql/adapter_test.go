// internal/database/mysql/adapter_test.go
//
// Unit-tests for the MySQL handle using sqlmock.
//
// Run: go test ./internal/database/mysql -v

package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/appgate/internal/database"
)

func newMock(t *testing.T) (*Handle, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewHandle(sqlx.NewDb(db, "mysql")), mock
}

func TestFindApp(t *testing.T) {
	h, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM   app`)).
		WithArgs("shop.example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"hostname", "secret", "database_name", "cluster", "providers", "created_at", "updated_at",
		}).AddRow("shop.example.com", "s3cret", "shop_example_com", "",
			`{"github":{"clientId":"id","clientSecret":"sec","enabled":true}}`, now, now))

	rec, err := h.FindApp(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("FindApp error: %v", err)
	}
	if rec.Database != "shop_example_com" || rec.Secret != "s3cret" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if p, ok := rec.Provider("github"); !ok || !p.Enabled || p.ClientID != "id" {
		t.Fatalf("providers not decoded: %+v", rec.Providers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestFindApp_NotFound(t *testing.T) {
	h, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM   app`)).
		WithArgs("missing.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"hostname"}))

	_, err := h.FindApp(context.Background(), "missing.example.com")
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindUserByCredential(t *testing.T) {
	h, mock := newMock(t)
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT user_id FROM user_credential`)).
		WithArgs("github", "gh-42").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u-1"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT created_at FROM app_user WHERE id = ?`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM   user_credential`)).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"provider", "external_id", "display_name", "email", "access_token", "profile",
		}).AddRow("github", "gh-42", "octo", "octo@example.com", "tok", []byte(`{"login":"octo"}`)))

	u, err := h.FindUserByCredential(context.Background(), "github", "gh-42")
	if err != nil {
		t.Fatalf("FindUserByCredential error: %v", err)
	}
	if u.ID != "u-1" || u.Credentials["github"].DisplayName != "octo" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if got := u.Credentials["github"].Profile["login"]; got != "octo" {
		t.Fatalf("profile login = %v, want octo", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestInsertUser_Commit(t *testing.T) {
	h, mock := newMock(t)
	u := &database.User{
		ID:          "u-1",
		CreatedAt:   time.Now(),
		Credentials: map[string]database.Credential{"github": {
			ID:      "gh-42",
			Profile: database.Profile{"login": "octo"},
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO app_user`)).
		WithArgs("u-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_credential`)).
		WithArgs("github", "gh-42", "u-1", "", "", "", `{"login":"octo"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := h.InsertUser(context.Background(), u); err != nil {
		t.Fatalf("InsertUser error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestInsertUser_DuplicateCredentialIsConflict(t *testing.T) {
	h, mock := newMock(t)
	u := &database.User{
		ID:          "u-2",
		CreatedAt:   time.Now(),
		Credentials: map[string]database.Credential{"github": {ID: "gh-42"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO app_user`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_credential`)).
		WillReturnError(&mysqldrv.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"})
	mock.ExpectRollback()

	err := h.InsertUser(context.Background(), u)
	if !errors.Is(err, database.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestNewAdapter_RequiresHost(t *testing.T) {
	d, err := database.ParseDescriptor("mysql", []byte(`{"type":"MySQL","user":"gw"}`))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if _, err := NewAdapter(d); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestSettingsDSN(t *testing.T) {
	s := Settings{Host: "db1", Port: 3306, User: "gw", Password: "pw"}
	got := s.dsn("shop_example_com")
	want := "gw:pw@tcp(db1:3306)/shop_example_com?parseTime=true"
	if got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
