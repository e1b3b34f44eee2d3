package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	v1 "github.com/kinfolk/kinsync/api/v1"
	redis "github.com/redis/go-redis/v9"
)

const peopleTTL = 10 * time.Minute

func peopleKey(connectionID string) string {
	return "sync:people:" + connectionID
}

// PeopleCache keeps the counterpart people listing per connection so the
// mapping screen does not hit the peer on every refresh. Entries expire on
// their own; activation invalidates explicitly.
type PeopleCache struct {
	client *redis.Client
}

func NewPeopleCache(addr string) *PeopleCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password set
		DB:       0,  // Use default DB
	})

	return &PeopleCache{client: client}
}

// GetPeople returns the cached listing, or nil when absent.
func (c *PeopleCache) GetPeople(ctx context.Context, connectionID string) ([]v1.PersonSnapshot, error) {
	res := c.client.Get(ctx, peopleKey(connectionID))
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, nil
		}
		return nil, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, err
	}

	people := make([]v1.PersonSnapshot, 0)
	if err := json.Unmarshal(buf, &people); err != nil {
		return nil, err
	}

	return people, nil
}

func (c *PeopleCache) SetPeople(ctx context.Context, connectionID string, people []v1.PersonSnapshot) error {
	marshal, err := json.Marshal(people)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, peopleKey(connectionID), marshal, peopleTTL).Err()
}

func (c *PeopleCache) Invalidate(ctx context.Context, connectionID string) error {
	return c.client.Del(ctx, peopleKey(connectionID)).Err()
}
