package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfabrik/botfabrik/test/util"
)

func TestBotService_CreateAndGet(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{
		Name:             "support-bot",
		Token:            "123:secret",
		LLMEnabled:       true,
		LLMPreset:        "short",
		DailyBudgetLimit: 5000,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, bot.ID)
	assert.Equal(t, BotStatusActive, bot.Status)
	assert.False(t, bot.CreatedAt.IsZero())

	got, err := svc.Get(ctx, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "support-bot", got.Name)
	assert.Equal(t, "123:secret", got.Token)
	assert.True(t, got.LLMEnabled)
	assert.Equal(t, "short", got.LLMPreset)
	assert.EqualValues(t, 5000, got.DailyBudgetLimit)
}

func TestBotService_CreateDefaultsPresetToNeutral(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)

	bot, err := svc.Create(context.Background(), CreateBotInput{Name: "plain-bot"})
	require.NoError(t, err)
	assert.Equal(t, "neutral", bot.LLMPreset)
	assert.False(t, bot.LLMEnabled)
}

func TestBotService_CreateValidation(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateBotInput
	}{
		{"empty name", CreateBotInput{Name: "  "}},
		{"unknown preset", CreateBotInput{Name: "b", LLMPreset: "verbose"}},
		{"negative budget", CreateBotInput{Name: "b", DailyBudgetLimit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.input)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestBotService_CreateDuplicateName(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateBotInput{Name: "twin"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateBotInput{Name: "twin"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestBotService_GetNotFound(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)

	_, err := svc.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBotService_List(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bots, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots)

	_, err = svc.Create(ctx, CreateBotInput{Name: "first"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateBotInput{Name: "second"})
	require.NoError(t, err)

	bots, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}

func TestBotService_Update(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{Name: "old-name"})
	require.NoError(t, err)

	name := "new-name"
	status := BotStatusDisabled
	enabled := true
	updated, err := svc.Update(ctx, bot.ID, UpdateBotInput{
		Name:       &name,
		Status:     &status,
		LLMEnabled: &enabled,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-name", updated.Name)
	assert.Equal(t, BotStatusDisabled, updated.Status)
	assert.True(t, updated.LLMEnabled)

	// Untouched fields survive a partial update.
	assert.Equal(t, "neutral", updated.LLMPreset)
}

func TestBotService_UpdateValidation(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{Name: "target"})
	require.NoError(t, err)

	bad := "paused"
	_, err = svc.Update(ctx, bot.ID, UpdateBotInput{Status: &bad})
	assert.True(t, IsValidationError(err))

	empty := " "
	_, err = svc.Update(ctx, bot.ID, UpdateBotInput{Name: &empty})
	assert.True(t, IsValidationError(err))

	name := "whatever"
	_, err = svc.Update(ctx, "00000000-0000-0000-0000-000000000000", UpdateBotInput{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBotService_UpdateNoFieldsIsAGet(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{Name: "noop"})
	require.NoError(t, err)

	got, err := svc.Update(ctx, bot.ID, UpdateBotInput{})
	require.NoError(t, err)
	assert.Equal(t, bot.ID, got.ID)
	assert.Equal(t, "noop", got.Name)
}

func TestBotService_SetBudget(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{Name: "budgeted", DailyBudgetLimit: 100})
	require.NoError(t, err)

	updated, err := svc.SetBudget(ctx, bot.ID, 9000)
	require.NoError(t, err)
	assert.EqualValues(t, 9000, updated.DailyBudgetLimit)

	_, err = svc.SetBudget(ctx, bot.ID, -1)
	assert.True(t, IsValidationError(err))
}

func TestBotService_Delete(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewBotService(db)
	ctx := context.Background()

	bot, err := svc.Create(ctx, CreateBotInput{Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, bot.ID))
	_, err = svc.Get(ctx, bot.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, bot.ID), ErrNotFound)
}
