package catalog

import (
	"errors"
	"testing"

	"github.com/timmy/catalogsync/internal/domain"
)

const catan = `<item id="13" type="boardgame">
	<thumbnail>https://cf.example.com/thumb.jpg</thumbnail>
	<image>https://cf.example.com/pic.jpg</image>
	<name type="alternate" sortindex="1" value="Die Siedler von Catan"/>
	<name type="primary" sortindex="1" value="CATAN"/>
	<description>Trade, build&amp;#10;and settle.</description>
	<yearpublished value="1995"/>
	<minplayers value="3"/>
	<maxplayers value="4"/>
	<playingtime value="120"/>
	<minplaytime value="60"/>
	<maxplaytime value="120"/>
	<minage value="10"/>
	<link type="boardgamecategory" id="1026" value="Negotiation"/>
	<link type="boardgamemechanic" id="2072" value="Dice Rolling"/>
	<link type="boardgamedesigner" id="11" value="Klaus Teuber"/>
	<link type="boardgamepublisher" id="37" value="KOSMOS"/>
	<statistics page="1"><ratings>
		<usersrated value="120000"/>
		<average value="7.09"/>
		<bayesaverage value="6.9"/>
		<averageweight value="2.29"/>
		<owned value="220000"/>
	</ratings></statistics>
</item>`

func TestParseFullItem(t *testing.T) {
	item, err := Parse(13, []byte(catan))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if item.Name != "CATAN" {
		t.Errorf("Name: got %q, want %q", item.Name, "CATAN")
	}
	if item.YearPublished == nil || *item.YearPublished != 1995 {
		t.Errorf("YearPublished: got %v, want 1995", item.YearPublished)
	}
	if item.MinPlayers != 3 || item.MaxPlayers != 4 || item.MinAge != 10 {
		t.Errorf("players/age: got %d-%d age %d", item.MinPlayers, item.MaxPlayers, item.MinAge)
	}
	if item.Description != "Trade, build\nand settle." {
		t.Errorf("Description: got %q", item.Description)
	}
	if len(item.Categories) != 1 || item.Categories[0] != "Negotiation" {
		t.Errorf("Categories: got %v", item.Categories)
	}
	if len(item.Designers) != 1 || len(item.Publishers) != 1 || len(item.Mechanics) != 1 {
		t.Errorf("links: designers=%v publishers=%v mechanics=%v", item.Designers, item.Publishers, item.Mechanics)
	}
	if item.UsersRated != 120000 || item.Average != 7.09 || item.AverageWeight != 2.29 {
		t.Errorf("stats: got rated=%d avg=%v weight=%v", item.UsersRated, item.Average, item.AverageWeight)
	}
}

func TestParseUnknownYear(t *testing.T) {
	payload := `<item id="5" type="boardgame"><name type="primary" value="Prototype"/><yearpublished value="0"/></item>`
	item, err := Parse(5, []byte(payload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if item.YearPublished != nil {
		t.Errorf("YearPublished: got %d, want nil", *item.YearPublished)
	}
}

func TestParseNegativeYear(t *testing.T) {
	payload := `<item id="2399" type="boardgame"><name type="primary" value="Senet"/><yearpublished value="-3500"/></item>`
	item, err := Parse(2399, []byte(payload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if item.YearPublished == nil || *item.YearPublished != -3500 {
		t.Errorf("YearPublished: got %v, want -3500", item.YearPublished)
	}
}

func TestParseValidationFailures(t *testing.T) {
	testCases := []struct {
		name    string
		id      int64
		payload string
	}{
		{"not xml", 1, "{json}"},
		{"id mismatch", 2, `<item id="1"><name type="primary" value="A"/></item>`},
		{"no name", 1, `<item id="1"></item>`},
		{"players inverted", 1, `<item id="1"><name type="primary" value="A"/><minplayers value="5"/><maxplayers value="2"/></item>`},
		{"bad number", 1, `<item id="1"><name type="primary" value="A"/><minage value="ten"/></item>`},
		{"year far in the past", 1, `<item id="1"><name type="primary" value="A"/><yearpublished value="-9223372036854775798"/></item>`},
		{"year far in the future", 1, `<item id="1"><name type="primary" value="A"/><yearpublished value="20250"/></item>`},
		{"rating out of range", 1, `<item id="1"><name type="primary" value="A"/><statistics><ratings><average value="11.5"/></ratings></statistics></item>`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.id, []byte(tc.payload))
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}
