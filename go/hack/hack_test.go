/*
Copyright 2024 The TiDB-Connector Authors.

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

package hack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	b := []byte("1234")
	s := String(b)
	assert.Equal(t, "1234", s)

	// The string must alias the slice, not copy it.
	b[0] = '0'
	assert.Equal(t, "0234", s)

	assert.Equal(t, "", String(nil))
	assert.Equal(t, "", String([]byte{}))
}

func TestStringBytes(t *testing.T) {
	assert.Equal(t, []byte("abc"), StringBytes("abc"))
	assert.Nil(t, StringBytes(""))
}
