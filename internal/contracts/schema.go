// Package contracts holds the event schemas of the admin, community and
// protocol contracts and decodes raw logs against them.
package contracts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

var (
	ErrNoTopics     = errors.New("log has no topics")
	ErrUnknownEvent = errors.New("unknown event")
)

// Schema is the event ABI of one contract family.
type Schema struct {
	category domain.Category
	abi      abi.ABI
}

func mustSchema(category domain.Category, abiJSON string) *Schema {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", category, err))
	}
	return &Schema{category: category, abi: parsed}
}

var (
	Admin     = mustSchema(domain.CategoryAdmin, adminABI)
	Community = mustSchema(domain.CategoryCommunity, communityABI)
	Protocol  = mustSchema(domain.CategoryProtocol, protocolABI)
)

func (s *Schema) Category() domain.Category {
	return s.category
}

// Topics returns the topic0 hash of every event in the schema.
func (s *Schema) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(s.abi.Events))
	for _, ev := range s.abi.Events {
		out = append(out, ev.ID)
	}
	return out
}

// EventID returns the topic0 hash of the named event.
func (s *Schema) EventID(name string) (common.Hash, bool) {
	ev, ok := s.abi.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return ev.ID, true
}

// Decode resolves topic0 to an event and unpacks its arguments: indexed ones
// from the remaining topics, the rest from the data field.
func (s *Schema) Decode(l types.Log) (*domain.ParsedEvent, error) {
	if len(l.Topics) == 0 {
		return nil, ErrNoTopics
	}

	event, err := s.abi.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s in %s schema", ErrUnknownEvent, l.Topics[0].Hex(), s.category)
	}

	args := make(map[string]any, len(event.Inputs))

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("decode %s indexed args: %w", event.Name, err)
	}

	if nonIndexed := event.Inputs.NonIndexed(); len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, l.Data); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", event.Name, err)
		}
	}

	return &domain.ParsedEvent{
		Category: s.category,
		Name:     event.Name,
		Args:     args,
		Log:      l,
	}, nil
}

// BuildLog encodes a log for the named event as the contract at addr would
// emit it. Used by replay tooling and tests.
func (s *Schema) BuildLog(addr common.Address, name string, args map[string]any) (types.Log, error) {
	event, ok := s.abi.Events[name]
	if !ok {
		return types.Log{}, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}

	topics := []common.Hash{event.ID}
	var dataValues []any
	for _, input := range event.Inputs {
		v, ok := args[input.Name]
		if !ok {
			return types.Log{}, fmt.Errorf("%s: missing arg %s", name, input.Name)
		}
		if !input.Indexed {
			dataValues = append(dataValues, v)
			continue
		}
		t, err := abi.MakeTopics([]any{v})
		if err != nil {
			return types.Log{}, fmt.Errorf("%s: encode topic %s: %w", name, input.Name, err)
		}
		topics = append(topics, t[0][0])
	}

	data, err := event.Inputs.NonIndexed().Pack(dataValues...)
	if err != nil {
		return types.Log{}, fmt.Errorf("%s: pack data: %w", name, err)
	}

	return types.Log{Address: addr, Topics: topics, Data: data}, nil
}
