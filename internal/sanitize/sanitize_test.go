package sanitize

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var safeRe = regexp.MustCompile(`^[0-9A-Za-z()\[\]_\-.#~@+:]*$`)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces", "my summer holiday", "my_summer_holiday"},
		{"accents", "café crème", "cafe_creme"},
		{"accent entities", "caf&eacute; cr&egrave;me", "cafe_creme"},
		{"ligature entity", "&aelig;on", "aeon"},
		{"ligature rune", "Œuvre complète", "OEuvre_complete"},
		{"markup stripped", "<b>Bold</b> title", "Bold_title"},
		{"unknown entity", "fish&nbsp;chips", "fish_chips"},
		{"kept punctuation", "v1.2-rc(3)[x]#a~b@c+d:e", "v1.2-rc(3)[x]#a~b@c+d:e"},
		{"slash removed", "a/b", "a_b"},
		{"collapse", "a  --  b", "a_--_b"},
		{"case preserved", "MixedCase", "MixedCase"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in))
		})
	}
}

func TestStringInvariants(t *testing.T) {
	inputs := []string{
		"café <i>crème</i> brûlée",
		"&Auml;rger & Ärger",
		"___a___b___",
		"проверка 漢字 mixed",
		"tab\tand\nnewline",
	}
	for _, in := range inputs {
		got := String(in)
		assert.Regexp(t, safeRe, got, "charset for %q", in)
		assert.NotContains(t, got, "__", "no doubled underscores for %q", in)
		assert.Equal(t, got, String(got), "idempotent for %q", in)
	}
}
