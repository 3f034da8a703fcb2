package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeratorRejectsBlockedTerms(t *testing.T) {
	m := NewModerator([]string{"spam", " Scam ", ""})

	assert.True(t, m.Reject("buy my spam"))
	assert.True(t, m.Reject("SPAM SPAM SPAM"))      // case-insensitive
	assert.True(t, m.Reject("this is a total sCaM")) // blocklist is normalized
	assert.True(t, m.Reject("antispammer"))          // substring match, by contract
	assert.False(t, m.Reject("perfectly fine message"))
	assert.False(t, m.Reject(""))
}

func TestModeratorEmptyBlocklistAcceptsEverything(t *testing.T) {
	m := NewModerator(nil)
	assert.False(t, m.Reject("anything goes"))
}
