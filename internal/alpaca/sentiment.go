package alpaca

import (
	"context"
	"fmt"

	"stock-signal-bot-go/internal/sentiment"
)

const defaultNewsLimit = 20

// NewsSentiment scores recent Alpaca news headlines for a symbol.
type NewsSentiment struct {
	client RestClientInterface
	limit  int
}

// NewNewsSentiment creates a sentiment provider reading limit headlines per symbol.
func NewNewsSentiment(client RestClientInterface, limit int) *NewsSentiment {
	if limit <= 0 {
		limit = defaultNewsLimit
	}
	return &NewsSentiment{client: client, limit: limit}
}

func (s *NewsSentiment) GetSentiment(ctx context.Context, symbol string) (sentiment.Result, error) {
	headlines, err := s.client.GetNews(ctx, symbol, s.limit)
	if err != nil {
		return sentiment.Neutral(), fmt.Errorf("failed to score sentiment for %s: %w", symbol, err)
	}
	return sentiment.Analyze(headlines), nil
}
