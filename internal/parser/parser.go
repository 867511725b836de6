// Package parser recognizes raid-invitation posts and extracts structured
// invitation records. It is a pure, stateless function over a single post
// payload, grounded on the teacher's rejection-heavy request-validation
// style (api.go's handler-level input checks) rather than any one teacher
// parsing file — the teacher has no text-template parser of its own.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"raidhub/internal/raid"
)

// clientSource is the exact literal the upstream stream already filters on;
// posts from any other source are rejected before the regexes ever run.
const clientSource = "Raid Battle Alert"

var (
	japanesePattern = regexp.MustCompile(`(?s)^(?P<text>.*)(?P<id>[0-9A-F]{8}) :参戦ID\n参加者募集！\n(?P<boss>[^\n]+)\n?(?P<url>.*)$`)
	englishPattern  = regexp.MustCompile(`(?s)^(?P<text>.*)(?P<id>[0-9A-F]{8}) :Battle ID\nI need backup!\n(?P<boss>[^\n]+)\n?(?P<url>.*)$`)
	urlPattern      = regexp.MustCompile(`^https?://[^ ]+$`)
)

// Media describes a single media attachment on a post, mirroring the
// subset of the upstream's entities.media[] shape we read.
type Media struct {
	URL string `json:"url"`
}

// User describes the subset of post-author fields the parser consumes.
type User struct {
	ScreenName      string `json:"screen_name"`
	DefaultProfile  bool   `json:"default_profile"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Post is the raw payload handed to Parse. Fields mirror the upstream's
// wire shape closely enough to extract a RaidInfo; how posts are fetched,
// authenticated, or reconnected is outside this package. JSON tags form
// the NDJSON wire contract internal/upstream reads.
type Post struct {
	ID        uint64  `json:"id"`
	Source    string  `json:"source"`
	Text      string  `json:"text"`
	User      User    `json:"user"`
	Media     []Media `json:"media"`
	CreatedAt int64   `json:"created_at"` // unix seconds
}

// Parse extracts a raid.Info from a post, or returns ok=false if the post
// is not a recognized raid-invitation announcement. Parse is pure: the same
// input always yields the same output.
func Parse(p Post) (raid.Info, bool) {
	if p.Source != clientSource {
		return raid.Info{}, false
	}

	var m []string
	var lang raid.Language
	switch {
	case japanesePattern.MatchString(p.Text):
		m = japanesePattern.FindStringSubmatch(p.Text)
		lang = raid.LanguageJapanese
	case englishPattern.MatchString(p.Text):
		m = englishPattern.FindStringSubmatch(p.Text)
		lang = raid.LanguageEnglish
	default:
		return raid.Info{}, false
	}

	names := (japanesePattern).SubexpNames()
	if lang == raid.LanguageEnglish {
		names = englishPattern.SubexpNames()
	}

	var text, id, boss, url string
	for i, name := range names {
		switch name {
		case "text":
			text = m[i]
		case "id":
			id = m[i]
		case "boss":
			boss = m[i]
		case "url":
			url = m[i]
		}
	}

	boss = strings.TrimSpace(boss)
	if boss == "" || strings.Contains(boss, "http") {
		return raid.Info{}, false
	}

	url = strings.TrimSpace(url)
	if url != "" && !urlPattern.MatchString(url) {
		return raid.Info{}, false
	}

	text = strings.TrimSpace(text)

	userImage := p.User.ProfileImageURL
	if p.User.DefaultProfile || strings.Contains(userImage, "default_profile") {
		userImage = ""
	}

	var image string
	if len(p.Media) > 0 {
		image = p.Media[0].URL
	}

	tweet := raid.Tweet{
		TweetID:   p.ID,
		BossName:  boss,
		RaidID:    strings.TrimSpace(id),
		User:      p.User.ScreenName,
		UserImage: userImage,
		Text:      text,
		Language:  lang,
	}
	if p.CreatedAt != 0 {
		tweet.CreatedAt = unixToTime(p.CreatedAt)
	}

	return raid.Info{Tweet: tweet, Image: image}, true
}

// Level extracts the numeric level prefix from a boss name (e.g. "Lv60
// Ozorotter" or "Lvl 60 Ozorotter" both yield 60). Returns 0 if no level
// prefix is found, matching the distilled spec's documented default.
func Level(bossName string) int16 {
	m := levelPattern.FindStringSubmatch(bossName)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return int16(n)
}

var levelPattern = regexp.MustCompile(`(?i)lvl?\.?\s*(\d+)`)

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
