package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/sweetpotato0/esg-rag/rag/searchfilter"
)

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, BuildFilter(searchfilter.Filter{}))

	single := BuildFilter(searchfilter.New(searchfilter.Equal("doc_type", "news")))
	assert.Equal(t, bson.M{"metadata.doc_type": bson.M{"$eq": "news"}}, single)

	multi := BuildFilter(searchfilter.New(
		searchfilter.Equal("doc_type", "esg"),
		searchfilter.In("company_code", "2330", "2317"),
	))
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"metadata.doc_type": bson.M{"$eq": "esg"}},
		{"metadata.company_code": bson.M{"$in": []any{"2330", "2317"}}},
	}}, multi)
}

func TestPipelineShape(t *testing.T) {
	s := &VectorStore{index: "idx", candidates: 10}
	p := s.pipeline([]float32{0.1}, 5, searchfilter.New(searchfilter.Equal("year", 2022)))

	assert.Len(t, p, 2)
	stage := p[0][0]
	assert.Equal(t, "$vectorSearch", stage.Key)
	search := stage.Value.(bson.D)
	assert.Equal(t, bson.E{Key: "numCandidates", Value: 50}, search[3])
	assert.Equal(t, bson.E{Key: "filter", Value: bson.M{"metadata.year": bson.M{"$eq": int64(2022)}}}, search[5])
}
