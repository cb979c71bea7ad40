package catalog

import (
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/timmy/catalogsync/internal/domain"
)

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlLink struct {
	Type  string `xml:"type,attr"`
	ID    int64  `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type xmlItem struct {
	XMLName       xml.Name  `xml:"item"`
	ID            int64     `xml:"id,attr"`
	Type          string    `xml:"type,attr"`
	Thumbnail     string    `xml:"thumbnail"`
	Image         string    `xml:"image"`
	Names         []xmlName `xml:"name"`
	Description   string    `xml:"description"`
	YearPublished valueAttr `xml:"yearpublished"`
	MinPlayers    valueAttr `xml:"minplayers"`
	MaxPlayers    valueAttr `xml:"maxplayers"`
	PlayingTime   valueAttr `xml:"playingtime"`
	MinPlayTime   valueAttr `xml:"minplaytime"`
	MaxPlayTime   valueAttr `xml:"maxplaytime"`
	MinAge        valueAttr `xml:"minage"`
	Links         []xmlLink `xml:"link"`
	Ratings       struct {
		UsersRated    valueAttr `xml:"usersrated"`
		Average       valueAttr `xml:"average"`
		BayesAverage  valueAttr `xml:"bayesaverage"`
		AverageWeight valueAttr `xml:"averageweight"`
		Owned         valueAttr `xml:"owned"`
	} `xml:"statistics>ratings"`
}

// link types mapped onto CatalogItem list fields
const (
	linkCategory  = "boardgamecategory"
	linkMechanic  = "boardgamemechanic"
	linkFamily    = "boardgamefamily"
	linkDesigner  = "boardgamedesigner"
	linkArtist    = "boardgameartist"
	linkPublisher = "boardgamepublisher"
)

// Parse decodes one <item> payload into a catalog snapshot.
// Parameters:
//   - itemID: id the payload was fetched for.
//   - payload: raw <item> element.
// Returns:
//   - *domain.CatalogItem: normalized snapshot without PayloadRef or timestamps.
//   - error: wraps domain.ErrValidation when the payload cannot be decoded or is inconsistent.
func Parse(itemID int64, payload []byte) (*domain.CatalogItem, error) {
	var raw xmlItem
	if err := xml.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode item %d: %v", domain.ErrValidation, itemID, err)
	}
	if raw.ID != itemID {
		return nil, fmt.Errorf("%w: payload is for item %d, want %d", domain.ErrValidation, raw.ID, itemID)
	}

	item := &domain.CatalogItem{
		ItemID:      itemID,
		ItemType:    raw.Type,
		Name:        primaryName(raw.Names),
		Description: strings.TrimSpace(html.UnescapeString(raw.Description)),
		Thumbnail:   strings.TrimSpace(raw.Thumbnail),
		Image:       strings.TrimSpace(raw.Image),
	}

	var err error
	if item.YearPublished, err = optionalYear(raw.YearPublished.Value); err != nil {
		return nil, err
	}
	ints := []struct {
		dst   *int
		field string
		v     valueAttr
	}{
		{&item.MinPlayers, "minplayers", raw.MinPlayers},
		{&item.MaxPlayers, "maxplayers", raw.MaxPlayers},
		{&item.PlayingTime, "playingtime", raw.PlayingTime},
		{&item.MinPlayTime, "minplaytime", raw.MinPlayTime},
		{&item.MaxPlayTime, "maxplaytime", raw.MaxPlayTime},
		{&item.MinAge, "minage", raw.MinAge},
		{&item.UsersRated, "usersrated", raw.Ratings.UsersRated},
		{&item.Owned, "owned", raw.Ratings.Owned},
	}
	for _, f := range ints {
		if *f.dst, err = intValue(f.field, f.v.Value); err != nil {
			return nil, err
		}
	}
	floats := []struct {
		dst   *float64
		field string
		v     valueAttr
	}{
		{&item.Average, "average", raw.Ratings.Average},
		{&item.BayesAverage, "bayesaverage", raw.Ratings.BayesAverage},
		{&item.AverageWeight, "averageweight", raw.Ratings.AverageWeight},
	}
	for _, f := range floats {
		if *f.dst, err = floatValue(f.field, f.v.Value); err != nil {
			return nil, err
		}
	}

	for _, l := range raw.Links {
		name := strings.TrimSpace(l.Value)
		if name == "" {
			continue
		}
		switch l.Type {
		case linkCategory:
			item.Categories = append(item.Categories, name)
		case linkMechanic:
			item.Mechanics = append(item.Mechanics, name)
		case linkFamily:
			item.Families = append(item.Families, name)
		case linkDesigner:
			item.Designers = append(item.Designers, name)
		case linkArtist:
			item.Artists = append(item.Artists, name)
		case linkPublisher:
			item.Publishers = append(item.Publishers, name)
		}
	}

	if err := Validate(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Validate checks a parsed snapshot for internal consistency.
func Validate(item *domain.CatalogItem) error {
	switch {
	case item.Name == "":
		return fmt.Errorf("%w: item %d has no name", domain.ErrValidation, item.ItemID)
	case item.MinPlayers < 0 || item.MaxPlayers < 0 || item.MinAge < 0:
		return fmt.Errorf("%w: item %d has negative player or age limits", domain.ErrValidation, item.ItemID)
	case item.MaxPlayers > 0 && item.MinPlayers > item.MaxPlayers:
		return fmt.Errorf("%w: item %d min players %d above max %d", domain.ErrValidation, item.ItemID, item.MinPlayers, item.MaxPlayers)
	case item.Average < 0 || item.Average > 10 || item.BayesAverage < 0 || item.BayesAverage > 10:
		return fmt.Errorf("%w: item %d rating outside [0, 10]", domain.ErrValidation, item.ItemID)
	case item.AverageWeight < 0 || item.AverageWeight > 5:
		return fmt.Errorf("%w: item %d weight %.2f outside [0, 5]", domain.ErrValidation, item.ItemID, item.AverageWeight)
	}
	return nil
}

// primaryName prefers the name marked primary, then the first one listed.
func primaryName(names []xmlName) string {
	for _, n := range names {
		if n.Type == "primary" {
			return strings.TrimSpace(n.Value)
		}
	}
	if len(names) > 0 {
		return strings.TrimSpace(names[0].Value)
	}
	return ""
}

// Plausible publication years; ancient games such as Senet sit near the lower end.
const (
	minYear = -10000
	maxYear = 10000
)

// optionalYear treats a missing or zero year as unknown.
func optionalYear(v string) (*int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: yearpublished %q: %v", domain.ErrValidation, v, err)
	}
	if year == 0 {
		return nil, nil
	}
	if year < minYear || year > maxYear {
		return nil, fmt.Errorf("%w: yearpublished %d outside [%d, %d]", domain.ErrValidation, year, minYear, maxYear)
	}
	return &year, nil
}

func intValue(field, v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", domain.ErrValidation, field, v, err)
	}
	return n, nil
}

func floatValue(field, v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q: %v", domain.ErrValidation, field, v, err)
	}
	return f, nil
}
