package extract

import "github.com/JakeFAU/ski-resort-crawler/internal/model"

// Building blocks shared by default and learned patterns.
const (
	monthToken = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sept?(?:ember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?`
	dateToken  = `(` + monthToken + `\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}(?:st|nd|rd|th)?\s+` + monthToken + `(?:\s+\d{4})?|\d{4}-\d{2}-\d{2})`
	priceToken = `([0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{1,2})?|[0-9]{1,5}(?:\.[0-9]{1,2})?)`
	coordToken = `(-?[0-9]{1,3}\.[0-9]{3,})`
)

// DefaultPatterns returns the built-in patterns per field, most trusted first. Every pattern
// is compiled case-insensitive with dot matching newlines.
func DefaultPatterns() map[model.Field][]string {
	return map[model.Field][]string{
		model.FieldName: {
			`<meta[^>]+property="og:site_name"[^>]+content="([^"]{2,120})"`,
			`<title[^>]*>(.*?)</title>`,
			`<h1[^>]*>(.*?)</h1>`,
		},
		model.FieldCountry: {
			`(?:located in|resort in|country)[:\s]+(?-i:([A-Z][\p{L}]+(?:\s[A-Z][\p{L}]+)?))`,
		},
		model.FieldContinent: {
			`\b(Europe|North America|South America|Asia|Oceania|Australia|Africa|Antarctica)\b`,
		},
		model.FieldLatitude: {
			`data-lat="` + coordToken + `"`,
			`"latitude"\s*:\s*"?` + coordToken,
			`<meta[^>]+(?:place:location:latitude|geo\.position)"[^>]+content="` + coordToken,
			`\blat\s*[:=]\s*` + coordToken,
		},
		model.FieldLongitude: {
			`data-(?:lng|lon)="` + coordToken + `"`,
			`"longitude"\s*:\s*"?` + coordToken,
			`<meta[^>]+place:location:longitude"[^>]+content="` + coordToken,
			`\b(?:lng|lon)\s*[:=]\s*` + coordToken,
		},
		model.FieldSnowfall: {
			`([0-9]{1,3}(?:\.[0-9])?)\s*(inches|inch|in|cm)\s*(?:of)?\s*(?:annual snow|snowfall|snow|average|season)`,
			`average snowfall[:\s]*([0-9]{1,3}(?:\.[0-9])?)\s*(cm|inches|in)\b`,
			`annual average snowfall:\s*([0-9]{1,3})\s*(in)\b`,
			`snowfall\s*:\s*([0-9]{1,3})\s*(inches)\s*per year`,
		},
		model.FieldOpeningDate: {
			`season\s*(?:starts|opens|opening)[\s:]*(?:on\s+)?` + dateToken,
			`opens\s*on\s*` + dateToken,
			`opening date:\s*` + dateToken,
		},
		model.FieldClosingDate: {
			`season\s*(?:ends|closes|closing)[\s:]*(?:on\s+)?` + dateToken,
			`closes\s*on\s*` + dateToken,
			`closing date:\s*` + dateToken,
		},
		model.FieldLiftCount: {
			`total lifts:\s*(\d{1,3})\b`,
			`number of lifts:\s*(\d{1,3})\b`,
			`\b(\d{1,3})\s*(?:lifts|chairlifts|drag lifts|surface lifts|t-bars?)\b`,
		},
		model.FieldRuns: {
			`(\d+)\s*%?\s*(?:beginner|easy|green)\b.*?(\d+)\s*%?\s*(?:intermediate|blue)\b.*?(\d+)\s*%?\s*(?:advanced|black|expert)`,
			`beginner[:\s]*(\d+)%?.+?intermediate[:\s]*(\d+)%?.+?advanced[:\s]*(\d+)%?`,
			`easy runs:\s*(\d+).*?intermediate:\s*(\d+).*?advanced:\s*(\d+)`,
			`green:\s*(\d+)%.*?blue:\s*(\d+)%.*?black:\s*(\d+)%`,
		},
		model.FieldDayPass: {
			`\$\s*` + priceToken + `\s*(?:per day|day pass|lift ticket|day ticket)`,
			`(?:day pass|lift ticket|day ticket)[:\s]*\$\s*` + priceToken,
		},
		model.FieldSeasonPass: {
			`\$\s*` + priceToken + `\s*(?:season pass|season-ticket|season pass price)`,
			`(?:season pass|season ticket)[:\s]*\$\s*` + priceToken,
		},
	}
}
