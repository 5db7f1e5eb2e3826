package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge-ai/dataforge/datamodel"
	"github.com/dataforge-ai/dataforge/types"
)

func TestTopicNode_ToDataModel(t *testing.T) {
	req := TopicNode{
		Topic: "Cooking",
		Subtopics: []TopicNode{
			{Topic: "Baking", Subtopics: []TopicNode{{Topic: "Bread"}}},
			{Topic: "Grilling"},
		},
	}

	node, err := req.ToDataModel()
	require.NoError(t, err)
	assert.Equal(t, "Cooking", node.Label)
	require.Len(t, node.Children, 2)
	assert.Equal(t, "Baking", node.Children[0].Label)
	require.Len(t, node.Children[0].Children, 1)
	assert.Equal(t, "Bread", node.Children[0].Children[0].Label)
	assert.True(t, node.Children[1].IsLeaf())
}

func TestTopicNode_ToDataModel_EmptyLabel(t *testing.T) {
	tests := []struct {
		name string
		node TopicNode
	}{
		{"empty root", TopicNode{}},
		{"empty child", TopicNode{Topic: "Cooking", Subtopics: []TopicNode{{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.node.ToDataModel()
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}
}

func TestStartRunRequest_ResolvedPath(t *testing.T) {
	tests := []struct {
		name    string
		req     StartRunRequest
		want    datamodel.TopicPath
		wantErr bool
	}{
		{
			name: "defaults to the root label",
			req:  StartRunRequest{Topic: TopicNode{Topic: "Cooking"}},
			want: datamodel.TopicPath{"Cooking"},
		},
		{
			name: "explicit path kept",
			req: StartRunRequest{
				Topic: TopicNode{Topic: "Baking"},
				Path:  []string{"Cooking", "Baking"},
			},
			want: datamodel.TopicPath{"Cooking", "Baking"},
		},
		{
			name: "path must end with the target label",
			req: StartRunRequest{
				Topic: TopicNode{Topic: "Baking"},
				Path:  []string{"Cooking", "Grilling"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.ResolvedPath()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartRunRequest_ResolvedPath_ReturnsCopy(t *testing.T) {
	path := []string{"Cooking", "Baking"}
	req := StartRunRequest{Topic: TopicNode{Topic: "Baking"}, Path: path}

	got, err := req.ResolvedPath()
	require.NoError(t, err)

	got[0] = "mutated"
	assert.Equal(t, "Cooking", path[0])
}
