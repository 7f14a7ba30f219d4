package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverseAPI struct {
	lastInput *bedrockruntime.ConverseInput
	out       *bedrockruntime.ConverseOutput
	err       error
}

func (f *fakeConverseAPI) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastInput = params
	return f.out, f.err
}

func converseOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: text},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(12),
			OutputTokens: aws.Int32(7),
			TotalTokens:  aws.Int32(19),
		},
	}
}

func TestBedrockClientComplete(t *testing.T) {
	api := &fakeConverseAPI{out: converseOutput("  the printer needs a firmware reset  ")}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), Request{
		Model:       "anthropic.claude-3-haiku",
		System:      []string{"You triage support tickets."},
		Messages:    []Message{{Role: RoleUser, Content: "printer on fire"}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "the printer needs a firmware reset", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(19), resp.Usage.TotalTokens)

	require.NotNil(t, api.lastInput)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.lastInput.ModelId))
	require.Len(t, api.lastInput.System, 1)
	require.Len(t, api.lastInput.Messages, 1)
	require.NotNil(t, api.lastInput.InferenceConfig)
	assert.Equal(t, int32(512), aws.ToInt32(api.lastInput.InferenceConfig.MaxTokens))
}

func TestBedrockClientSystemRoleMessagesBecomeSystemBlocks(t *testing.T) {
	api := &fakeConverseAPI{out: converseOutput("ok")}
	client := NewBedrockClient(api)

	_, err := client.Complete(context.Background(), Request{
		Model: "anthropic.claude-3-haiku",
		Messages: []Message{
			{Role: RoleSystem, Content: "always answer in English"},
			{Role: RoleUser, Content: "hola"},
		},
		Temperature: -1,
	})
	require.NoError(t, err)
	assert.Len(t, api.lastInput.System, 1)
	assert.Len(t, api.lastInput.Messages, 1)
}

func TestBedrockClientRequiresModel(t *testing.T) {
	client := NewBedrockClient(&fakeConverseAPI{})
	_, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestBedrockClientRejectsUnknownRole(t *testing.T) {
	client := NewBedrockClient(&fakeConverseAPI{out: converseOutput("ok")})
	_, err := client.Complete(context.Background(), Request{
		Model:    "anthropic.claude-3-haiku",
		Messages: []Message{{Role: "moderator", Content: "hi"}},
	})
	require.Error(t, err)
}

func TestBedrockClientPropagatesAPIError(t *testing.T) {
	apiErr := errors.New("throttled")
	client := NewBedrockClient(&fakeConverseAPI{err: apiErr})
	_, err := client.Complete(context.Background(), Request{
		Model:    "anthropic.claude-3-haiku",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.ErrorIs(t, err, apiErr)
}

func TestBedrockClientEmptyTextIsError(t *testing.T) {
	client := NewBedrockClient(&fakeConverseAPI{out: converseOutput("   ")})
	_, err := client.Complete(context.Background(), Request{
		Model:    "anthropic.claude-3-haiku",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
}
