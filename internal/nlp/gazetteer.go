package nlp

import (
	"strings"

	"golang.org/x/text/cases"
)

type place struct {
	label     Label
	continent string
}

const (
	europe       = "Europe"
	northAmerica = "North America"
	southAmerica = "South America"
	asia         = "Asia"
	oceania      = "Oceania"
	africa       = "Africa"
	antarctica   = "Antarctica"
)

var gazetteer = map[string]place{
	// Continents.
	europe:       {LabelLoc, europe},
	northAmerica: {LabelLoc, northAmerica},
	southAmerica: {LabelLoc, southAmerica},
	asia:         {LabelLoc, asia},
	oceania:      {LabelLoc, oceania},
	"Australia":  {LabelGPE, oceania},
	africa:       {LabelLoc, africa},
	antarctica:   {LabelLoc, antarctica},

	// Mountain ranges.
	"Alps":            {LabelLoc, europe},
	"Pyrenees":        {LabelLoc, europe},
	"Dolomites":       {LabelLoc, europe},
	"Carpathians":     {LabelLoc, europe},
	"Rocky Mountains": {LabelLoc, northAmerica},
	"Rockies":         {LabelLoc, northAmerica},
	"Sierra Nevada":   {LabelLoc, ""},
	"Andes":           {LabelLoc, southAmerica},
	"Japanese Alps":   {LabelLoc, asia},
	"Southern Alps":   {LabelLoc, oceania},
	"Appalachians":    {LabelLoc, northAmerica},

	// Countries.
	"Andorra":        {LabelGPE, europe},
	"Austria":        {LabelGPE, europe},
	"Bosnia":         {LabelGPE, europe},
	"Bulgaria":       {LabelGPE, europe},
	"Czech Republic": {LabelGPE, europe},
	"Czechia":        {LabelGPE, europe},
	"Finland":        {LabelGPE, europe},
	"France":         {LabelGPE, europe},
	"Georgia":        {LabelGPE, europe},
	"Germany":        {LabelGPE, europe},
	"Greece":         {LabelGPE, europe},
	"Iceland":        {LabelGPE, europe},
	"Italy":          {LabelGPE, europe},
	"Liechtenstein":  {LabelGPE, europe},
	"Norway":         {LabelGPE, europe},
	"Poland":         {LabelGPE, europe},
	"Romania":        {LabelGPE, europe},
	"Scotland":       {LabelGPE, europe},
	"Serbia":         {LabelGPE, europe},
	"Slovakia":       {LabelGPE, europe},
	"Slovenia":       {LabelGPE, europe},
	"Spain":          {LabelGPE, europe},
	"Sweden":         {LabelGPE, europe},
	"Switzerland":    {LabelGPE, europe},
	"United Kingdom": {LabelGPE, europe},
	"Canada":         {LabelGPE, northAmerica},
	"United States":  {LabelGPE, northAmerica},
	"USA":            {LabelGPE, northAmerica},
	"Mexico":         {LabelGPE, northAmerica},
	"Argentina":      {LabelGPE, southAmerica},
	"Bolivia":        {LabelGPE, southAmerica},
	"Chile":          {LabelGPE, southAmerica},
	"China":          {LabelGPE, asia},
	"India":          {LabelGPE, asia},
	"Iran":           {LabelGPE, asia},
	"Japan":          {LabelGPE, asia},
	"Kazakhstan":     {LabelGPE, asia},
	"Korea":          {LabelGPE, asia},
	"South Korea":    {LabelGPE, asia},
	"Lebanon":        {LabelGPE, asia},
	"Turkey":         {LabelGPE, asia},
	"New Zealand":    {LabelGPE, oceania},
	"Lesotho":        {LabelGPE, africa},
	"Morocco":        {LabelGPE, africa},
	"South Africa":   {LabelGPE, africa},
}

// subdivisions maps ski-region states, provinces and cantons to their country. The rule
// recognizer does not match them; they resolve places the entity model tags as GPE.
var subdivisions = map[string]string{
	"Alaska":           "United States",
	"California":       "United States",
	"Colorado":         "United States",
	"Idaho":            "United States",
	"Maine":            "United States",
	"Michigan":         "United States",
	"Montana":          "United States",
	"Nevada":           "United States",
	"New Hampshire":    "United States",
	"New Mexico":       "United States",
	"New York":         "United States",
	"Oregon":           "United States",
	"Utah":             "United States",
	"Vermont":          "United States",
	"Wyoming":          "United States",
	"Alberta":          "Canada",
	"British Columbia": "Canada",
	"Ontario":          "Canada",
	"Quebec":           "Canada",
	"Bavaria":          "Germany",
	"Tyrol":            "Austria",
	"Salzburg":         "Austria",
	"Vorarlberg":       "Austria",
	"Carinthia":        "Austria",
	"Valais":           "Switzerland",
	"Graubünden":       "Switzerland",
	"Bernese Oberland": "Switzerland",
	"Savoie":           "France",
	"Haute-Savoie":     "France",
	"Isère":            "France",
	"South Tyrol":      "Italy",
	"Aosta Valley":     "Italy",
	"Trentino":         "Italy",
	"Piedmont":         "Italy",
	"Lombardy":         "Italy",
	"Andalusia":        "Spain",
	"Catalonia":        "Spain",
	"Hokkaido":         "Japan",
	"Nagano":           "Japan",
	"Niigata":          "Japan",
	"Gangwon":          "South Korea",
	"New South Wales":  "Australia",
	"Tasmania":         "Australia",
	"Otago":            "New Zealand",
}

var (
	folder    = cases.Fold()
	subByFold = make(map[string]string, len(subdivisions))
	byFold    = make(map[string]string, len(gazetteer))
	regions   = map[string]bool{
		europe: true, northAmerica: true, southAmerica: true, asia: true, oceania: true, africa: true, antarctica: true,
	}
)

func init() {
	for name := range gazetteer {
		byFold[fold(name)] = name
	}
	for name, country := range subdivisions {
		subByFold[fold(name)] = country
	}
}

func fold(s string) string {
	return folder.String(strings.Join(strings.Fields(s), " "))
}

func lookup(name string) (string, place, bool) {
	canonical, ok := byFold[fold(name)]
	if !ok {
		return "", place{}, false
	}
	return canonical, gazetteer[canonical], true
}

// Continent returns the canonical continent name when name is one.
func Continent(name string) (string, bool) {
	canonical, _, ok := lookup(name)
	if !ok || !regions[canonical] {
		return "", false
	}
	return canonical, true
}

// Country returns the canonical country name when name is a known country.
func Country(name string) (string, bool) {
	canonical, p, ok := lookup(name)
	if !ok || p.label != LabelGPE {
		return "", false
	}
	return canonical, true
}

// CountryOf returns the country of a known country or region.
func CountryOf(name string) (string, bool) {
	if country, ok := Country(name); ok {
		return country, true
	}
	country, ok := subByFold[fold(name)]
	return country, ok
}

// ContinentOf returns the continent of a known country, region or mountain range.
func ContinentOf(name string) (string, bool) {
	if country, ok := subByFold[fold(name)]; ok {
		name = country
	}
	_, p, ok := lookup(name)
	if !ok || p.continent == "" {
		return "", false
	}
	return p.continent, true
}
