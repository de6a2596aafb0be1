// Package transformer collapses the fan-out of the extractor's joined rows
// into one self-contained document per entity, ready for bulk indexing.
package transformer

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/pg-search-replicator/internal/extractor"
)

const (
	RoleActor    = "actor"
	RoleDirector = "director"
	RoleWriter   = "writer"
)

// Person is a person reference inside a Document.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Document is the denormalized index document of one entity. ID doubles as
// the index document id, so re-publishing a Document overwrites it.
type Document struct {
	ID           string   `json:"id"`
	Rating       *float64 `json:"imdb_rating"`
	Genres       []string `json:"genre"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Director     string   `json:"director"`
	ActorsNames  []string `json:"actors_names"`
	WritersNames []string `json:"writers_names"`
	Actors       []Person `json:"actors"`
	Writers      []Person `json:"writers"`
}

// Normalize sorts the multi-valued fields so that documents built from the
// same rows compare equal.
func (d *Document) Normalize() {
	sort.Strings(d.Genres)
	sort.Strings(d.ActorsNames)
	sort.Strings(d.WritersNames)
	byID := func(p []Person) func(i, j int) bool {
		return func(i, j int) bool {
			if p[i].Name != p[j].Name {
				return p[i].Name < p[j].Name
			}
			return p[i].ID < p[j].ID
		}
	}
	sort.Slice(d.Actors, byID(d.Actors))
	sort.Slice(d.Writers, byID(d.Writers))
}

type credit struct {
	role, name, id string
}

type collected struct {
	id          string
	title       string
	description string
	rating      *float64
	credits     map[credit]struct{}
	genres      map[string]struct{}
}

// Transform groups rows by entity id and formats one Document per entity, in
// order of first appearance. Scalar fields take the last value seen for the
// entity. The order of multi-valued fields is unspecified; call Normalize
// when a stable order matters.
func Transform(rows []extractor.Row) []Document {
	entities := collect(rows)
	docs := make([]Document, 0, len(entities))
	for _, e := range entities {
		docs = append(docs, format(e))
	}
	return docs
}

func collect(rows []extractor.Row) []*collected {
	byID := make(map[string]*collected)
	var order []*collected
	for _, r := range rows {
		e, ok := byID[r.EntityID]
		if !ok {
			e = &collected{
				id:      r.EntityID,
				credits: make(map[credit]struct{}),
				genres:  make(map[string]struct{}),
			}
			byID[r.EntityID] = e
			order = append(order, e)
		}
		e.title = r.Title
		e.description = r.Description
		e.rating = r.Rating
		if r.Role != "" {
			e.credits[credit{role: r.Role, name: r.PersonName, id: r.PersonID}] = struct{}{}
		}
		if r.GenreName != "" {
			e.genres[r.GenreName] = struct{}{}
		}
	}
	return order
}

func format(e *collected) Document {
	doc := Document{
		ID:           e.id,
		Rating:       e.rating,
		Title:        e.title,
		Description:  e.description,
		Genres:       make([]string, 0, len(e.genres)),
		ActorsNames:  []string{},
		WritersNames: []string{},
		Actors:       []Person{},
		Writers:      []Person{},
	}
	for g := range e.genres {
		doc.Genres = append(doc.Genres, g)
	}
	for c := range e.credits {
		switch c.role {
		case RoleDirector:
			if doc.Director == "" {
				doc.Director = c.name
			}
		case RoleActor:
			doc.Actors = append(doc.Actors, Person{ID: c.id, Name: c.name})
			doc.ActorsNames = append(doc.ActorsNames, c.name)
		case RoleWriter:
			doc.Writers = append(doc.Writers, Person{ID: c.id, Name: c.name})
			doc.WritersNames = append(doc.WritersNames, c.name)
		}
	}
	return doc
}

// BulkTarget addresses one document in the index.
type BulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// BulkAction is the action line preceding a document in a bulk request.
type BulkAction struct {
	Index BulkTarget `json:"index"`
}

// BulkPairs returns the alternating action, document sequence expected by a
// bulk-write API. Each action indexes by document id.
func BulkPairs(index string, docs []Document) []any {
	pairs := make([]any, 0, 2*len(docs))
	for _, d := range docs {
		pairs = append(pairs, BulkAction{Index: BulkTarget{Index: index, ID: d.ID}}, d)
	}
	return pairs
}
