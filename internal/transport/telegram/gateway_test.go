package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "fieldreport/pkg/logx"
)

func TestSplitTelegramText(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"hard split", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, []string{"aaaa", "bbbbbb"}},
		{"unicode", "añbñcñ", 2, []string{"añ", "bñ", "cñ"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitTelegramText(tc.in, tc.limit)
			if strings.Join(got, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("split = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSendBeforeInit(t *testing.T) {
	g := New(Config{}, nil, logx.Nop())
	if err := g.Send(context.Background(), "1001", "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Send error = %v, want ErrNotInitialized", err)
	}
	if err := g.Send(context.Background(), "not-a-chat", "hi"); err == nil {
		t.Fatal("expected invalid chat id error")
	}
}

func TestInitRequiresToken(t *testing.T) {
	g := New(Config{Token: "  "}, nil, logx.Nop())
	if err := g.Init(context.Background(), true); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on idle gateway: %v", err)
	}
}
