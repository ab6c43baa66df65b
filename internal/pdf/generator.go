package pdf

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/quizbank/internal/model"
)

// Balancer draws a topic-balanced question set.
type Balancer interface {
	Balance(ctx context.Context, professionID int64, topicIDs []int64, total int) ([]model.Question, error)
}

// Generator turns a print request into documents.
type Generator struct {
	balancer Balancer
	composer *Composer
	validate *validator.Validate
}

func NewGenerator(b Balancer, c *Composer) *Generator {
	return &Generator{balancer: b, composer: c, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Generate validates req, draws the questions and composes both documents.
// A topic without questions stops the job before anything is laid out.
func (g *Generator) Generate(ctx context.Context, req model.PrintRequest, labels Labels) (Documents, error) {
	if err := g.validate.Struct(req); err != nil {
		return Documents{}, fmt.Errorf("invalid print request: %w", err)
	}
	questions, err := g.balancer.Balance(ctx, req.ProfessionID, req.TopicIDs, req.Count)
	if err != nil {
		return Documents{}, err
	}
	return g.composer.Compose(ctx, req.Title, labels, questions)
}
