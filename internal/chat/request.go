package chat

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"lumen.app/relay/internal/model"
)

// TurnRequest is one assistant turn to run.
type TurnRequest struct {
	TurnID       string
	Conversation *model.Conversation
	Stream       bool
	// Retrieval is nil when the turn should not look up course material.
	Retrieval *RetrievalOptions
	// Tools enables the tool selection step.
	Tools bool
}

type RetrievalOptions = model.RetrievalOptions

func validateTurnRequest(req *TurnRequest) error {
	err := validation.ValidateStruct(req,
		validation.Field(&req.TurnID, validation.Required),
		validation.Field(&req.Conversation, validation.Required, validation.By(validateConversation)),
		validation.Field(&req.Retrieval, validation.By(validateRetrieval)),
	)
	if err != nil {
		return &model.ValidationError{Field: "request", Message: err.Error(), Err: err}
	}
	return nil
}

func validateConversation(value any) error {
	conv, ok := value.(*model.Conversation)
	if !ok || conv == nil {
		return errors.New("must be a conversation")
	}

	err := validation.ValidateStruct(conv,
		validation.Field(&conv.Model, validation.By(func(v any) error {
			ref, _ := v.(model.ModelRef)
			return validation.Validate(ref.ID, validation.Required.Error("model id is required"))
		})),
		validation.Field(&conv.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&conv.Messages,
			validation.Required.ErrorObject(validation.NewError("validation_empty_conversation", model.ErrEmptyConversation.Error())),
			validation.Each(validation.By(validateMessage)),
		),
	)
	if err != nil {
		return err
	}

	if conv.LastUserMessage() == nil {
		return errors.New("conversation has no user message")
	}
	return nil
}

func validateMessage(value any) error {
	msg, _ := value.(model.Message)
	if err := validation.Validate(msg.Role,
		validation.Required,
		validation.In(model.RoleUser, model.RoleAssistant, model.RoleSystem),
	); err != nil {
		return fmt.Errorf("role: %w", err)
	}
	for _, p := range msg.Content.Parts {
		if err := validation.Validate(p.Type, validation.In(model.ContentText, model.ContentImage, model.ContentFile)); err != nil {
			return fmt.Errorf("content type %q: %w", p.Type, err)
		}
	}
	return nil
}

func validateRetrieval(value any) error {
	opts, _ := value.(*RetrievalOptions)
	if opts == nil {
		return nil
	}
	return validation.ValidateStruct(opts,
		validation.Field(&opts.CourseName, validation.Required),
		validation.Field(&opts.TokenBudget, validation.Min(0)),
	)
}
