package symphony

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	mentionUIDPattern   = regexp.MustCompile(`<mention\s+uid="([^"]+)"\s*/>`)
	mentionEmailPattern = regexp.MustCompile(`<mention\s+email="([^"]+)"\s*/>`)
)

// MentionUser formats a messageML mention tag for an email address or a
// numeric user id. Identifiers containing "@" are treated as emails.
func MentionUser(emailOrUID string) (string, error) {
	if emailOrUID == "" {
		return "", fmt.Errorf("mention: empty identifier")
	}
	if strings.Contains(emailOrUID, "@") {
		return MentionByEmail(emailOrUID)
	}
	return MentionByID(emailOrUID)
}

// MentionByEmail formats a mention tag addressing a user by email.
func MentionByEmail(email string) (string, error) {
	if email == "" {
		return "", fmt.Errorf("mention: empty email")
	}
	return fmt.Sprintf(`<mention email="%s" />`, email), nil
}

// MentionByID formats a mention tag addressing a user by uid.
func MentionByID(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("mention: empty uid")
	}
	return fmt.Sprintf(`<mention uid="%s" />`, uid), nil
}

// MentionUsers formats mention tags for several identifiers, space separated.
// Empty identifiers are rejected, matching the single-user helpers.
func MentionUsers(emailsOrUIDs ...string) (string, error) {
	tags := make([]string, 0, len(emailsOrUIDs))
	for _, id := range emailsOrUIDs {
		tag, err := MentionUser(id)
		if err != nil {
			return "", err
		}
		tags = append(tags, tag)
	}
	return strings.Join(tags, " "), nil
}

// ExtractMentions returns the uids and emails referenced by mention tags in
// the given messageML text, in order of appearance.
func ExtractMentions(text string) []string {
	var out []string
	for _, m := range mentionUIDPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	for _, m := range mentionEmailPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// IsBotMentioned reports whether the text mentions the bot by uid or email.
// Either identifier may be empty and is then ignored.
func IsBotMentioned(text, botUID, botEmail string) bool {
	for _, id := range ExtractMentions(text) {
		if botUID != "" && id == botUID {
			return true
		}
		if botEmail != "" && id == botEmail {
			return true
		}
	}
	return false
}

// FormatHashtag formats a messageML hashtag.
func FormatHashtag(tag string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("hashtag: empty tag")
	}
	return fmt.Sprintf(`<hash tag="%s" />`, strings.TrimPrefix(tag, "#")), nil
}

// FormatCashtag formats a messageML cashtag.
func FormatCashtag(tag string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("cashtag: empty tag")
	}
	return fmt.Sprintf(`<cash tag="%s" />`, strings.TrimPrefix(tag, "$")), nil
}
