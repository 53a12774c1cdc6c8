package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/entity"
)

type author struct {
	entity.Root
	Name string `json:"name" chassis:"index"`
}

type attachment struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type article struct {
	entity.Root
	Title       string            `json:"title" chassis:"index"`
	Words       int               `json:"words"`
	Rating      float64           `json:"rating"`
	Published   bool              `json:"published"`
	ReleasedAt  time.Time         `json:"released_at"`
	Attachment  attachment        `json:"attachment"`
	Author      author            `json:"author"`
	Reviewers   []author          `json:"reviewers"`
	Translators map[string]author `json:"translators"`
}

func newArticle() *article {
	a := &article{
		Title:      "Go for the long haul",
		Words:      1200,
		Rating:     4.5,
		Published:  true,
		ReleasedAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		Attachment: attachment{Kind: "pdf", Path: "/files/a.pdf"},
	}
	a.ID = "article-1"
	a.Author = author{Name: "Ada"}
	a.Author.ID = "author-1"

	one := author{Name: "Tom"}
	one.ID = "author-2"
	two := author{Name: "Ines"}
	two.ID = "author-3"
	a.Reviewers = []author{one, two}
	a.Translators = map[string]author{"de": one}
	return a
}

func articleMapper(t *testing.T, mapAll bool) *Mapper {
	t.Helper()
	def, err := entity.Describe[article]()
	require.NoError(t, err)
	return NewMapper(def, nil, mapAll)
}

func TestDocumentMapCollapsesRelations(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	doc, err := m.DocumentMap(newArticle())
	require.NoError(t, err)

	assert.Equal(t, "article-1", doc["id"])
	assert.Equal(t, "author-1", doc["author"])
	assert.Equal(t, []any{"author-2", "author-3"}, doc["reviewers"])
	assert.Equal(t, map[string]any{"de": "author-2"}, doc["translators"])

	// Value objects stay inline.
	att, ok := doc["attachment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pdf", att["kind"])
}

func TestMarshalEntityDocumentMode(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	row, err := m.MarshalEntity(newArticle())
	require.NoError(t, err)

	assert.Equal(t, "article-1", row["id"])
	assert.Contains(t, row, entity.DocumentColumn)
	assert.Equal(t, "Go for the long haul", row["title"])
	assert.Nil(t, row[entity.SoftDeleteColumn])

	// Only id, document, indexed fields and the soft delete marker.
	assert.NotContains(t, row, "words")
	assert.NotContains(t, row, "author")
}

func TestMarshalEntityDocumentModeSoftDeleted(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	a := newArticle()
	gone := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	a.DeletedOn = &gone

	row, err := m.MarshalEntity(a)
	require.NoError(t, err)
	assert.Equal(t, gone, row[entity.SoftDeleteColumn])
}

func TestRoundTripDocumentMode(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	row, err := m.MarshalEntity(newArticle())
	require.NoError(t, err)

	var back article
	require.NoError(t, m.UnmarshalRow(row, &back))

	assert.Equal(t, "article-1", back.ID)
	assert.Equal(t, "Go for the long haul", back.Title)
	assert.Equal(t, 1200, back.Words)
	assert.True(t, back.ReleasedAt.Equal(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, attachment{Kind: "pdf", Path: "/files/a.pdf"}, back.Attachment)

	// Root references come back as id stubs.
	assert.Equal(t, "author-1", back.Author.ID)
	assert.Empty(t, back.Author.Name)
	require.Len(t, back.Reviewers, 2)
	assert.Equal(t, "author-2", back.Reviewers[0].ID)
	assert.Empty(t, back.Reviewers[0].Name)
	assert.Equal(t, "author-2", back.Translators["de"].ID)
}

func TestRoundTripMapAll(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, true)
	row, err := m.MarshalEntity(newArticle())
	require.NoError(t, err)

	assert.NotContains(t, row, entity.DocumentColumn)
	assert.Equal(t, "author-1", row["author"])
	assert.Equal(t, 1200, row["words"])
	assert.JSONEq(t, `["author-2","author-3"]`, row["reviewers"].(string))
	assert.JSONEq(t, `{"kind":"pdf","path":"/files/a.pdf"}`, row["attachment"].(string))

	var back article
	require.NoError(t, m.UnmarshalRow(row, &back))
	assert.Equal(t, "article-1", back.ID)
	assert.Equal(t, "author-1", back.Author.ID)
	require.Len(t, back.Reviewers, 2)
	assert.Equal(t, "author-3", back.Reviewers[1].ID)
	assert.Equal(t, 4.5, back.Rating)
}

func TestMarshalEntityEmptyRelations(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	a := &article{Title: "draft"}
	a.ID = "article-2"

	doc, err := m.DocumentMap(a)
	require.NoError(t, err)
	assert.Nil(t, doc["author"], "zero value references store no id")

	var back article
	row, err := m.MarshalEntity(a)
	require.NoError(t, err)
	require.NoError(t, m.UnmarshalRow(row, &back))
	assert.Empty(t, back.Author.ID)
}

func TestUnmarshalRowMissingDocument(t *testing.T) {
	t.Parallel()

	m := articleMapper(t, false)
	var back article
	err := m.UnmarshalRow(Row{"id": "x"}, &back)
	assert.Error(t, err)
}
