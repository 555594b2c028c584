package protocol

import (
	"errors"
	"fmt"
	"regexp"
)

// Field length limits.
const (
	MaxUsernameLen  = 20
	MaxChannelIDLen = 20
	MaxDisplayLen   = 20
	MaxSecretLen    = 128
	MaxContentLen   = 1400
)

var ErrInvalidField = errors.New("invalid message field")

var (
	identRE     = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	printableRE = regexp.MustCompile(`^[\x20-\x7E]+$`)
)

type fieldRule struct {
	maxLen int
	re     *regexp.Regexp
}

func (r fieldRule) check(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidField, name)
	}
	if len(value) > r.maxLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidField, name, r.maxLen)
	}
	if !r.re.MatchString(value) {
		return fmt.Errorf("%w: %s contains a disallowed character", ErrInvalidField, name)
	}
	return nil
}

var (
	usernameRule  = fieldRule{MaxUsernameLen, identRE}
	channelIDRule = fieldRule{MaxChannelIDLen, identRE}
	secretRule    = fieldRule{MaxSecretLen, identRE}
	displayRule   = fieldRule{MaxDisplayLen, printableRE}
	contentRule   = fieldRule{MaxContentLen, printableRE}
)

// Validate checks every populated field of m against its length limit and
// character class. The first violation is returned; nil means the message
// is acceptable input for its type.
func Validate(m Message) error {
	switch t := m.(type) {
	case *AuthMessage:
		if err := usernameRule.check("username", t.Username); err != nil {
			return err
		}
		if err := displayRule.check("display name", t.DisplayName); err != nil {
			return err
		}
		return secretRule.check("secret", t.Secret)
	case *JoinMessage:
		if err := channelIDRule.check("channel id", t.ChannelID); err != nil {
			return err
		}
		return displayRule.check("display name", t.DisplayName)
	case *MsgMessage:
		if err := displayRule.check("display name", t.DisplayName); err != nil {
			return err
		}
		return contentRule.check("content", t.Content)
	case *ErrMessage:
		if err := displayRule.check("display name", t.DisplayName); err != nil {
			return err
		}
		return contentRule.check("content", t.Content)
	case *ReplyMessage:
		return contentRule.check("content", t.Content)
	case *ByeMessage, *ConfirmMessage:
		return nil
	default:
		return fmt.Errorf("%w: unparseable message", ErrInvalidField)
	}
}
