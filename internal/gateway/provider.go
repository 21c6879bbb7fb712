/*
Copyright 2024 Blnk Finance Authors.

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

package gateway

import (
	"fmt"

	"github.com/blnkfinance/disburse/config"
)

// New builds the gateway selected by cnf.Provider.
func New(cnf config.GatewayConfig) (Gateway, error) {
	switch cnf.Provider {
	case config.GatewayProviderSandbox:
		return NewSandbox(), nil
	case config.GatewayProviderHTTP, "":
		return NewHTTPGateway(cnf.BaseURL, cnf.APIKey, cnf.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cnf.Provider)
	}
}
