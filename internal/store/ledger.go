package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/avolkau/evidentia/internal/model"
)

// Apply is the single mutation gateway. It runs mutate inside one badger
// transaction and writes the Action row in that same transaction, so either
// the entity rows and their action commit together or neither is visible.
// A failed mutation leaves no partial state and no orphan action.
func (s *Store) Apply(actionType model.ActionType, actor string, input any, mutate func(tx *Tx) (output any, err error)) (model.Action, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return model.Action{}, fmt.Errorf("marshal action input: %w", err)
	}

	action := model.Action{
		UID:   uuid.NewString(),
		Type:  actionType,
		Actor: actor,
		Input: inputJSON,
	}

	err = s.Update(func(tx *Tx) error {
		output, err := mutate(tx)
		if err != nil {
			return err
		}
		outputJSON, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal action output: %w", err)
		}
		action.Output = outputJSON
		action.RecordedAt = tx.now
		return tx.setJSON(prefixAction+action.UID, action)
	})
	if err != nil {
		return model.Action{}, err
	}

	s.log.Debug("action committed", "uid", action.UID, "type", action.Type, "actor", actor)
	return action, nil
}

// Replay returns the recorded payloads of a past action for audit
// reconstruction. It never re-executes side effects.
func (s *Store) Replay(actionUID string) (model.Action, error) {
	var action model.Action
	err := s.View(func(tx *Tx) error {
		return tx.getJSON(prefixAction+actionUID, &action)
	})
	return action, err
}

// Actions returns the full action trace, oldest first.
func (s *Store) Actions() ([]model.Action, error) {
	var actions []model.Action
	err := s.View(func(tx *Tx) error {
		return tx.iterate(prefixAction, func(_ string, item *badger.Item) error {
			var action model.Action
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &action)
			}); err != nil {
				return err
			}
			actions = append(actions, action)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].RecordedAt.Equal(actions[j].RecordedAt) {
			return actions[i].RecordedAt.Before(actions[j].RecordedAt)
		}
		return actions[i].UID < actions[j].UID
	})
	return actions, nil
}
