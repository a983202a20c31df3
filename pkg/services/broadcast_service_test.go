package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfabrik/botfabrik/pkg/broadcast"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/masking"
	"github.com/botfabrik/botfabrik/test/util"
)

func broadcastTestEnv(t *testing.T) (*BroadcastService, *BotService, *UserService) {
	t.Helper()
	db := util.SetupTestDatabase(t)
	ev := events.NewLogger(db, masking.NewService(false))
	return NewBroadcastService(db, nil, ev), NewBotService(db), NewUserService(db)
}

func TestBroadcastService_Create(t *testing.T) {
	svc, bots, users := broadcastTestEnv(t)
	ctx := context.Background()

	bot, err := bots.Create(ctx, CreateBotInput{Name: "announcer"})
	require.NoError(t, err)
	require.NoError(t, users.Touch(ctx, bot.ID, 100))
	require.NoError(t, users.Touch(ctx, bot.ID, 200))

	b, err := svc.Create(ctx, bot.ID, CreateBroadcastInput{
		Audience: "all",
		Message:  "Скидка 20% до пятницы!",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, broadcast.StatusPending, b.Status)
	assert.Equal(t, broadcast.DefaultThrottle, b.Throttle)
	assert.Equal(t, 2, b.TotalUsers)
}

func TestBroadcastService_CreateSegmentAudienceEstimate(t *testing.T) {
	svc, bots, users := broadcastTestEnv(t)
	ctx := context.Background()

	bot, err := bots.Create(ctx, CreateBotInput{Name: "segmenter"})
	require.NoError(t, err)
	require.NoError(t, users.Touch(ctx, bot.ID, 100))
	require.NoError(t, users.Touch(ctx, bot.ID, 200))
	require.NoError(t, users.SetSegmentTags(ctx, bot.ID, 100, []string{"vip"}))

	b, err := svc.Create(ctx, bot.ID, CreateBroadcastInput{
		Audience: "segment:vip",
		Message:  "Только для своих",
		Throttle: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalUsers)
	assert.Equal(t, 5, b.Throttle)
}

func TestBroadcastService_CreateValidation(t *testing.T) {
	svc, bots, _ := broadcastTestEnv(t)
	ctx := context.Background()

	bot, err := bots.Create(ctx, CreateBotInput{Name: "picky"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input CreateBroadcastInput
	}{
		{"empty message", CreateBroadcastInput{Audience: "all", Message: "  "}},
		{"unknown audience", CreateBroadcastInput{Audience: "everyone", Message: "hi"}},
		{"empty segment tag", CreateBroadcastInput{Audience: "segment:", Message: "hi"}},
		{"throttle too high", CreateBroadcastInput{Audience: "all", Message: "hi", Throttle: 500}},
		{"negative throttle", CreateBroadcastInput{Audience: "all", Message: "hi", Throttle: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, bot.ID, tt.input)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}

	_, err = svc.Create(ctx, "00000000-0000-0000-0000-000000000000",
		CreateBroadcastInput{Audience: "all", Message: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBroadcastService_GetAndList(t *testing.T) {
	svc, bots, _ := broadcastTestEnv(t)
	ctx := context.Background()

	bot, err := bots.Create(ctx, CreateBotInput{Name: "lister"})
	require.NoError(t, err)
	other, err := bots.Create(ctx, CreateBotInput{Name: "other"})
	require.NoError(t, err)

	created, err := svc.Create(ctx, bot.ID, CreateBroadcastInput{Audience: "all", Message: "раз"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, bot.ID, CreateBroadcastInput{Audience: "all", Message: "два"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, bot.ID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "раз", got.Message)

	// Lookups are scoped to the owning bot.
	_, err = svc.Get(ctx, other.ID, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.List(ctx, bot.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = svc.List(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
