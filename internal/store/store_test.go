package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan: column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type fakeDB struct {
	row     fakeRow
	execErr error

	queries []string
	args    [][]any
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return f.row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func TestAppTokenExpired(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := AppToken{AccessToken: "a", ExpiresIn: 3600, UpdatedAt: updated}

	if got := tok.ExpiresAt(); !got.Equal(updated.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", got, updated.Add(time.Hour))
	}
	if tok.Expired(updated.Add(time.Hour)) {
		t.Error("token should still be valid exactly at expiry")
	}
	if !tok.Expired(updated.Add(time.Hour + time.Second)) {
		t.Error("token should be expired after expiry")
	}
}

func TestStore_AppToken(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{values: []any{"tok", 5000, "bearer", updated}}}
	s := New(db)

	got, err := s.AppToken(context.Background())
	if err != nil {
		t.Fatalf("AppToken failed: %v", err)
	}
	want := AppToken{AccessToken: "tok", ExpiresIn: 5000, TokenType: "bearer", UpdatedAt: updated}
	if got != want {
		t.Errorf("AppToken = %+v, want %+v", got, want)
	}
}

func TestStore_AppTokenNotFound(t *testing.T) {
	s := New(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})

	_, err := s.AppToken(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_AppTokenQueryError(t *testing.T) {
	s := New(&fakeDB{row: fakeRow{err: errors.New("conn reset")}})

	_, err := s.AppToken(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want wrapped query error", err)
	}
}

func TestStore_SaveAppToken(t *testing.T) {
	db := &fakeDB{}
	s := New(db)
	updated := time.Now().UTC()

	err := s.SaveAppToken(context.Background(), AppToken{AccessToken: "new", ExpiresIn: 100, TokenType: "bearer", UpdatedAt: updated})
	if err != nil {
		t.Fatalf("SaveAppToken failed: %v", err)
	}
	if !strings.Contains(db.queries[0], "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("query is not an upsert: %s", db.queries[0])
	}
	wantArgs := []any{"new", 100, "bearer", updated}
	if !reflect.DeepEqual(db.args[0], wantArgs) {
		t.Errorf("args = %v, want %v", db.args[0], wantArgs)
	}
}

func TestStore_ChannelToken(t *testing.T) {
	expires := time.Date(2024, 3, 1, 16, 0, 0, 0, time.UTC)
	updated := expires.Add(-4 * time.Hour)
	db := &fakeDB{row: fakeRow{values: []any{"access", "refresh", []string{"user:read:chat"}, expires, updated}}}
	s := New(db)

	got, err := s.ChannelToken(context.Background(), "1234")
	if err != nil {
		t.Fatalf("ChannelToken failed: %v", err)
	}
	if got.BroadcasterID != "1234" || got.AccessToken != "access" || got.RefreshToken != "refresh" {
		t.Errorf("ChannelToken = %+v", got)
	}
	if !reflect.DeepEqual(got.Scopes, []string{"user:read:chat"}) {
		t.Errorf("Scopes = %v", got.Scopes)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expires)
	}
	if db.args[0][0] != "1234" {
		t.Errorf("query arg = %v, want 1234", db.args[0][0])
	}
}

func TestStore_ChannelTokenNotFound(t *testing.T) {
	s := New(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})

	_, err := s.ChannelToken(context.Background(), "1234")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveChannelToken(t *testing.T) {
	db := &fakeDB{}
	s := New(db)

	if err := s.SaveChannelToken(context.Background(), ChannelToken{}); err == nil {
		t.Fatal("SaveChannelToken without broadcaster id should fail")
	}
	if len(db.queries) != 0 {
		t.Fatalf("invalid token reached the database")
	}

	err := s.SaveChannelToken(context.Background(), ChannelToken{BroadcasterID: "1234", AccessToken: "a", RefreshToken: "r"})
	if err != nil {
		t.Fatalf("SaveChannelToken failed: %v", err)
	}
	if scopes, ok := db.args[0][3].([]string); !ok || scopes == nil {
		t.Errorf("scopes arg = %#v, want empty non-nil slice", db.args[0][3])
	}
}

func TestStore_SaveError(t *testing.T) {
	s := New(&fakeDB{execErr: errors.New("read only")})

	if err := s.SaveAppToken(context.Background(), AppToken{}); err == nil {
		t.Fatal("SaveAppToken should surface exec error")
	}
}
