package extractor

import (
	"fmt"

	"github.com/lib/pq"
)

// Satellite tables the merge query joins through "<table>_<primary>" link
// tables.
const (
	PersonTable = "person"
	GenreTable  = "genre"
)

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func linkTable(satellite, primary string) string {
	return satellite + "_" + primary
}

func changesQuery(schema, table string) string {
	return fmt.Sprintf(`SELECT id, modified
FROM %s
WHERE modified > $1
ORDER BY modified
LIMIT $2`, qualified(schema, table))
}

// affectedQuery maps changed satellite ids to the primary rows linked to
// them, oldest primary modification first.
func affectedQuery(schema, table, primary, idType string) string {
	return fmt.Sprintf(`SELECT fw.id
FROM %[1]s fw
JOIN %[2]s l ON l.%[3]s = fw.id
WHERE l.%[4]s = ANY($1::%[5]s[])
GROUP BY fw.id, fw.modified
ORDER BY fw.modified, fw.id`,
		qualified(schema, primary),
		qualified(schema, linkTable(table, primary)),
		pq.QuoteIdentifier(primary+"_id"),
		pq.QuoteIdentifier(table+"_id"),
		idType,
	)
}

func joinedQuery(schema, primary, idType string) string {
	fk := pq.QuoteIdentifier(primary + "_id")
	return fmt.Sprintf(`SELECT
    fw.id,
    fw.title,
    fw.description,
    fw.rating,
    pfw.role,
    p.full_name,
    p.id,
    g.name
FROM %[1]s fw
LEFT JOIN %[2]s pfw ON pfw.%[6]s = fw.id
LEFT JOIN %[3]s p ON p.id = pfw.person_id
LEFT JOIN %[4]s gfw ON gfw.%[6]s = fw.id
LEFT JOIN %[5]s g ON g.id = gfw.genre_id
WHERE fw.id = ANY($1::%[7]s[])`,
		qualified(schema, primary),
		qualified(schema, linkTable(PersonTable, primary)),
		qualified(schema, PersonTable),
		qualified(schema, linkTable(GenreTable, primary)),
		qualified(schema, GenreTable),
		fk,
		idType,
	)
}
