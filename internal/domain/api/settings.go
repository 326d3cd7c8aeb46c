package api

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
)

// document loads one of the plugin's JSON blobs through the bridge.
type document struct {
	load func(ctx context.Context, pluginID string) ([]byte, error)
	save func(ctx context.Context, pluginID string, data []byte) error
	name string
}

func (a *API) settingsDoc() document {
	return document{load: a.bridge.GetPluginSettings, save: a.bridge.SavePluginSettings, name: "settings"}
}

func (a *API) storageDoc() document {
	return document{load: a.bridge.GetPluginStorage, save: a.bridge.SavePluginStorage, name: "storage"}
}

func (a *API) read(ctx context.Context, doc document) ([]byte, error) {
	data, err := doc.load(ctx, a.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin %s: %w", doc.name, err)
	}
	if len(data) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("plugin %s for %s is not valid JSON", doc.name, a.ID())
	}
	return data, nil
}

func (a *API) checkDocument(key string) error {
	if err := a.checkOpen(); err != nil {
		return err
	}
	if a.bridge == nil {
		return ErrNoHostBridge
	}
	return validateKey(key)
}

// GetSetting returns the value stored under key, or nil when unset. Keys are
// dotted paths into the plugin's settings document ("editor.fontSize").
func (a *API) GetSetting(ctx context.Context, key string) (any, error) {
	if err := a.checkDocument(key); err != nil {
		return nil, err
	}
	data, err := a.read(ctx, a.settingsDoc())
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(data, key)
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

// GetSettings returns the whole settings document.
func (a *API) GetSettings(ctx context.Context) (map[string]any, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if a.bridge == nil {
		return nil, ErrNoHostBridge
	}
	data, err := a.read(ctx, a.settingsDoc())
	if err != nil {
		return nil, err
	}
	out, _ := gjson.ParseBytes(data).Value().(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// SetSetting stores value under key, preserving the rest of the document,
// and publishes setting_changed.
func (a *API) SetSetting(ctx context.Context, key string, value any) error {
	if err := a.checkDocument(key); err != nil {
		return err
	}
	doc := a.settingsDoc()
	data, err := a.read(ctx, doc)
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	if err := doc.save(ctx, a.ID(), updated); err != nil {
		return fmt.Errorf("failed to save plugin settings: %w", err)
	}
	a.bus.Emit(event.KindSettingChanged, a.ID(), SettingChange{Key: key, Value: value})
	return nil
}

// StorageGet returns a value from the plugin's private storage, or nil.
func (a *API) StorageGet(ctx context.Context, key string) (any, error) {
	if err := a.checkDocument(key); err != nil {
		return nil, err
	}
	data, err := a.read(ctx, a.storageDoc())
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(data, key)
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

// StorageSet writes a value to the plugin's private storage.
func (a *API) StorageSet(ctx context.Context, key string, value any) error {
	if err := a.checkDocument(key); err != nil {
		return err
	}
	doc := a.storageDoc()
	data, err := a.read(ctx, doc)
	if err != nil {
		return err
	}
	updated, err := sjson.SetBytes(data, key, value)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return doc.save(ctx, a.ID(), updated)
}

// StorageDelete removes a key from the plugin's private storage.
func (a *API) StorageDelete(ctx context.Context, key string) error {
	if err := a.checkDocument(key); err != nil {
		return err
	}
	doc := a.storageDoc()
	data, err := a.read(ctx, doc)
	if err != nil {
		return err
	}
	if !gjson.GetBytes(data, key).Exists() {
		return nil
	}
	updated, err := sjson.DeleteBytes(data, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return doc.save(ctx, a.ID(), updated)
}

// StorageKeys returns the top-level keys of the plugin's private storage.
func (a *API) StorageKeys(ctx context.Context) ([]string, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if a.bridge == nil {
		return nil, ErrNoHostBridge
	}
	data, err := a.read(ctx, a.storageDoc())
	if err != nil {
		return nil, err
	}
	var keys []string
	gjson.ParseBytes(data).ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys, nil
}
