package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/veridex-ai/veridex/internal/model"
)

// FootballData queries competition standings and team data from
// football-data.org.
type FootballData struct {
	Base
	apiKey  string
	baseURL string
}

const footballDataBaseURL = "https://api.football-data.org/v4"

// NewFootballData creates the adapter; nil without an API key.
func NewFootballData(apiKey string, deps Deps) *FootballData {
	if apiKey == "" {
		return nil
	}
	return &FootballData{
		Base:    newBase("football_data", deps, model.TierGeneral, 0.9, time.Hour),
		apiKey:  apiKey,
		baseURL: footballDataBaseURL,
	}
}

// RelevantFor matches sports in any jurisdiction.
func (f *FootballData) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainSports
}

type footballTeamsResponse struct {
	Teams []struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		Venue     string `json:"venue"`
		Founded   int    `json:"founded"`
		ClubColors string `json:"clubColors"`
		Area      struct {
			Name string `json:"name"`
		} `json:"area"`
	} `json:"teams"`
}

// Search matches claim entities against Premier League teams. Team facts
// (venue, founding year, country) verify the most common sports claims.
func (f *FootballData) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	entities := entitiesOf(req.Claim, model.EntityOrg, model.EntityPerson)
	if len(entities) == 0 {
		return nil, nil
	}

	return f.cached(ctx, []any{entities}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp footballTeamsResponse
		u := f.baseURL + "/competitions/PL/teams"
		if err := f.fetchJSON(ctx, u, map[string]string{"X-Auth-Token": f.apiKey}, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for _, team := range resp.Teams {
			if !anyEntityMatches(entities, team.Name) {
				continue
			}
			text := fmt.Sprintf("%s: founded %d, plays at %s, based in %s.",
				team.Name, team.Founded, team.Venue, team.Area.Name)
			link := fmt.Sprintf("https://www.football-data.org/teams/%d", team.ID)
			out = append(out, f.snippet(text, link, team.Name, nil))
		}
		return capResults(out, req.MaxResults), nil
	})
}

// Transfermarkt queries player market values and transfer records via the
// community API mirror. Keyless.
type Transfermarkt struct {
	Base
	baseURL string
}

const transfermarktBaseURL = "https://transfermarkt-api.fly.dev"

// NewTransfermarkt creates the adapter.
func NewTransfermarkt(deps Deps) *Transfermarkt {
	return &Transfermarkt{
		Base:    newBase("transfermarkt", deps, model.TierGeneral, 0.8, 6*time.Hour),
		baseURL: transfermarktBaseURL,
	}
}

// RelevantFor matches sports in any jurisdiction.
func (t *Transfermarkt) RelevantFor(domain model.Domain, _ model.Jurisdiction) bool {
	return domain == model.DomainSports
}

type transfermarktSearchResponse struct {
	Results []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Club        struct {
			Name string `json:"name"`
		} `json:"club"`
		MarketValue string `json:"marketValue"`
		Position    string `json:"position"`
		Nationalities []string `json:"nationalities"`
	} `json:"results"`
}

// Search looks up player entities by name.
func (t *Transfermarkt) Search(ctx context.Context, req Request) ([]model.EvidenceSnippet, error) {
	player := firstEntity(req.Claim, model.EntityPerson)
	if player == "" {
		return nil, nil
	}

	return t.cached(ctx, []any{player}, func(ctx context.Context) ([]model.EvidenceSnippet, error) {
		var resp transfermarktSearchResponse
		u := t.baseURL + "/players/search/" + pathEscape(player) + "?" + params("page_number", "1").Encode()
		if err := t.fetchJSON(ctx, u, nil, &resp); err != nil {
			return nil, err
		}

		var out []model.EvidenceSnippet
		for i, p := range resp.Results {
			if i >= 2 {
				break
			}
			text := fmt.Sprintf("%s plays as %s for %s; market value %s.",
				p.Name, p.Position, p.Club.Name, p.MarketValue)
			link := "https://www.transfermarkt.com/spieler/profil/spieler/" + p.ID
			out = append(out, t.snippet(text, link, p.Name, nil))
		}
		return capResults(out, req.MaxResults), nil
	})
}
