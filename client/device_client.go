package client

import (
	"fmt"

	"nodedash/device_manager/schema"
)

type DeviceClient struct {
	BaseClient
	Info DeviceInfo
}

func (c *DeviceClient) endpoint(suffix string) string {
	return fmt.Sprintf("/devices/%d%s", c.Info.Id, suffix)
}

func (c *DeviceClient) Refresh() error {
	var info DeviceInfo
	if err := c.Get(c.endpoint("")).Do(&info); err != nil {
		return err
	}
	c.Info = info
	return nil
}

// Update applies the set fields of changes, for example
// map[string]interface{}{"name": "boiler"}.
func (c *DeviceClient) Update(changes map[string]interface{}) error {
	var info DeviceInfo
	if err := c.Put(c.endpoint("")).Json(changes).Do(&info); err != nil {
		return err
	}
	c.Info = info
	return nil
}

func (c *DeviceClient) Delete() error {
	return c.BaseClient.Delete(c.endpoint("")).Do(nil)
}

func (c *DeviceClient) SetStatus(status string) error {
	if err := c.Put(c.endpoint("/status")).Json(map[string]string{"status": status}).Do(nil); err != nil {
		return err
	}
	return c.Refresh()
}

// MarkSeen reports that the device just transmitted.
func (c *DeviceClient) MarkSeen() error {
	return c.Post(c.endpoint("/seen")).Do(nil)
}

func (c *DeviceClient) LiveStatus() (LiveStatus, error) {
	var status LiveStatus
	err := c.Get(c.endpoint("/live-status")).Do(&status)
	return status, err
}

// Downlink queues a payload for the device and returns the network server's
// queue item id. Hex payloads are converted to base64 by the server.
func (c *DeviceClient) Downlink(downlink Downlink) (string, error) {
	var res struct {
		Id string `json:"id"`
	}
	err := c.Post(c.endpoint("/downlink")).Json(downlink).Do(&res)
	return res.Id, err
}

func (c *DeviceClient) Labels() ([]LabelRef, error) {
	var labels []LabelRef
	err := c.Get(c.endpoint("/labels")).Do(&labels)
	return labels, err
}

func (c *DeviceClient) History() ([]schema.DeviceHistory, error) {
	var entries []schema.DeviceHistory
	err := c.Get(c.endpoint("/history")).Do(&entries)
	return entries, err
}
