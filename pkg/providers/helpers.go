/*
Copyright 2024 the Unikorn Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package providers

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	// ErrUnknownQuotaCategory is raised when a category isn't in the schema.
	ErrUnknownQuotaCategory = errors.New("unknown quota category")

	// ErrUnknownQuotaField is raised when a field isn't in the schema.
	ErrUnknownQuotaField = errors.New("unknown quota field")

	// ErrMissingQuotaField is raised when the cloud doesn't report a field
	// that has been configured.
	ErrMissingQuotaField = errors.New("quota field not reported by cloud")
)

// ValidateQuota checks all fields are known for the category.
func ValidateQuota(category QuotaCategory, quota Quota) error {
	fields, ok := QuotaFields[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuotaCategory, category)
	}

	for _, name := range quota.Fields() {
		if !slices.Contains(fields, name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownQuotaField, category, name)
		}
	}

	return nil
}

// Fields returns the quota field names in a stable order.
func (q Quota) Fields() []string {
	fields := make([]string, 0, len(q))

	for name := range q {
		fields = append(fields, name)
	}

	sort.Strings(fields)

	return fields
}

// DiffQuota compares what's desired with what the cloud reports and returns
// the subset of fields that need updating.  An empty result means nothing
// needs to be done.
func DiffQuota(category QuotaCategory, current, desired Quota) (Quota, []QuotaUpdate, error) {
	if err := ValidateQuota(category, desired); err != nil {
		return nil, nil, err
	}

	changed := Quota{}

	var updates []QuotaUpdate

	for _, name := range desired.Fields() {
		have, ok := current[name]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrMissingQuotaField, category, name)
		}

		want := desired[name]

		if have == want {
			continue
		}

		changed[name] = want

		updates = append(updates, QuotaUpdate{
			Field:   name,
			Current: have,
			Desired: want,
		})
	}

	return changed, updates, nil
}
