package transformer

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/extractor"
)

func rating(v float64) *float64 { return &v }

// fanOut is the join output of one film with two actors, a writer, a director
// and two genres: every credit appears once per genre.
func fanOut() []extractor.Row {
	base := extractor.Row{EntityID: "fw-1", Title: "Star Wars", Description: "space opera", Rating: rating(8.6)}
	credits := []struct{ role, name, id string }{
		{RoleActor, "Mark Hamill", "p-1"},
		{RoleActor, "Carrie Fisher", "p-2"},
		{RoleWriter, "George Lucas", "p-3"},
		{RoleDirector, "George Lucas", "p-3"},
	}
	var rows []extractor.Row
	for _, c := range credits {
		for _, g := range []string{"Sci-Fi", "Adventure"} {
			r := base
			r.Role, r.PersonName, r.PersonID, r.GenreName = c.role, c.name, c.id, g
			rows = append(rows, r)
		}
	}
	return rows
}

func TestTransformCollapsesFanOut(t *testing.T) {
	docs := Transform(fanOut())
	require.Len(t, docs, 1)

	doc := docs[0]
	doc.Normalize()
	assert.Equal(t, "fw-1", doc.ID)
	assert.Equal(t, "Star Wars", doc.Title)
	assert.Equal(t, "space opera", doc.Description)
	require.NotNil(t, doc.Rating)
	assert.InDelta(t, 8.6, *doc.Rating, 1e-9)
	assert.Equal(t, "George Lucas", doc.Director)
	assert.Equal(t, []string{"Adventure", "Sci-Fi"}, doc.Genres)
	assert.Equal(t, []string{"Carrie Fisher", "Mark Hamill"}, doc.ActorsNames)
	assert.Equal(t, []Person{{ID: "p-2", Name: "Carrie Fisher"}, {ID: "p-1", Name: "Mark Hamill"}}, doc.Actors)
	assert.Equal(t, []string{"George Lucas"}, doc.WritersNames)
	assert.Equal(t, []Person{{ID: "p-3", Name: "George Lucas"}}, doc.Writers)
}

func TestTransformIgnoresRowOrder(t *testing.T) {
	rows := fanOut()
	want := Transform(rows)
	want[0].Normalize()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]extractor.Row(nil), rows...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := Transform(shuffled)
		require.Len(t, got, 1)
		got[0].Normalize()
		assert.Equal(t, want, got)
	}
}

func TestTransformWithoutLinks(t *testing.T) {
	docs := Transform([]extractor.Row{{EntityID: "fw-9", Title: "Lonely"}})
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Empty(t, doc.Director)
	assert.Nil(t, doc.Rating)
	assert.Empty(t, doc.Genres)
	assert.Empty(t, doc.Actors)
	assert.Empty(t, doc.Writers)

	// empty lists serialize as [] and a missing rating as null
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "fw-9", "imdb_rating": null, "genre": [], "title": "Lonely",
		"description": "", "director": "", "actors_names": [], "writers_names": [],
		"actors": [], "writers": []
	}`, string(raw))
}

func TestTransformKeepsEntitiesApart(t *testing.T) {
	rows := append(fanOut(),
		extractor.Row{EntityID: "fw-2", Title: "Alien", Role: RoleActor, PersonName: "Sigourney Weaver", PersonID: "p-4", GenreName: "Horror"},
		extractor.Row{EntityID: "fw-2", Title: "Alien", Role: RoleDirector, PersonName: "Ridley Scott", PersonID: "p-5", GenreName: "Horror"},
	)
	docs := Transform(rows)
	require.Len(t, docs, 2)
	assert.Equal(t, "fw-1", docs[0].ID)
	assert.Equal(t, "fw-2", docs[1].ID)
	assert.Equal(t, "Ridley Scott", docs[1].Director)
	assert.Equal(t, []string{"Sigourney Weaver"}, docs[1].ActorsNames)
	assert.Equal(t, []string{"Horror"}, docs[1].Genres)
	assert.Empty(t, docs[1].Writers)
}

func TestBulkPairs(t *testing.T) {
	docs := []Document{{ID: "fw-1"}, {ID: "fw-2"}}
	pairs := BulkPairs("movies", docs)
	require.Len(t, pairs, 4)
	assert.Equal(t, BulkAction{Index: BulkTarget{Index: "movies", ID: "fw-1"}}, pairs[0])
	assert.Equal(t, docs[0], pairs[1])
	assert.Equal(t, BulkAction{Index: BulkTarget{Index: "movies", ID: "fw-2"}}, pairs[2])

	raw, err := json.Marshal(pairs[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":{"_index":"movies","_id":"fw-2"}}`, string(raw))

	assert.Empty(t, BulkPairs("movies", nil))
}
