package backend

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/bringyour/social/social"
)

// a collection change on a shared bus.
// Every process notifies its own subscriptions directly and skips its own messages.
type changeMessage struct {
	Origin     string `json:"origin"`
	Collection string `json:"collection"`
}

type changeOrigin struct {
	origin string
	local  *social.LocalChangeBus
}

func newChangeOrigin() changeOrigin {
	return changeOrigin{
		origin: uuid.NewString(),
		local:  social.NewLocalChangeBus(),
	}
}

func (self *changeOrigin) AddChangeCallback(changeCallback social.CollectionChangeFunction) func() {
	return self.local.AddChangeCallback(changeCallback)
}

func (self *changeOrigin) encode(collection social.Path) ([]byte, error) {
	return json.Marshal(&changeMessage{
		Origin:     self.origin,
		Collection: string(collection),
	})
}

// notifies local subscriptions of a change from another process
func (self *changeOrigin) receive(value []byte) error {
	var message changeMessage
	if err := json.Unmarshal(value, &message); err != nil {
		return err
	}
	if message.Origin == self.origin {
		return nil
	}
	self.local.Notify(social.Path(message.Collection))
	return nil
}
