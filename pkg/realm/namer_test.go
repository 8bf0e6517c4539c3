package realm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameFor(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Empresa Demo S.A.", "empresa-demo-s-a"},
		{"Acme Inc", "acme-inc"},
		{"  --Acme   Inc--  ", "acme-inc"},
		{"ACME_INC", "acme-inc"},
		{"Café Olé", "caf-ol"},
		{"123 Numbers", "123-numbers"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NameFor(tc.in))
		})
	}
}

func TestNameForCollisions(t *testing.T) {
	assert.Equal(t, NameFor("Acme Inc"), NameFor("ACME, Inc."))
}

func TestNameForTruncates(t *testing.T) {
	long := strings.Repeat("a", 49) + " b" + strings.Repeat("c", 30)
	got := NameFor(long)
	assert.LessOrEqual(t, len(got), MaxLen)
	assert.Equal(t, strings.Repeat("a", 49), got, "trailing dash after truncation is dropped")
	assert.NoError(t, Validate(got))
}

func TestMintedNamesValidate(t *testing.T) {
	for _, in := range []string{"Empresa Demo S.A.", "x", "Über GmbH & Co. KG", strings.Repeat("Long Name ", 20)} {
		name := NameFor(in)
		assert.NoError(t, Validate(name), in)
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("Acme"))
	assert.Error(t, Validate("acme--inc"))
	assert.Error(t, Validate("-acme"))
	assert.Error(t, Validate("acme/../master"))
	assert.Error(t, Validate(strings.Repeat("a", MaxLen+1)))
	assert.NoError(t, Validate("acme-inc"))
}
